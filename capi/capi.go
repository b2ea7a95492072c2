// Package capi is the Go side of the shared library interface. Results are
// kept in a handle registry; every call is safe for concurrent use. The cgo
// exports in package main translate between C types and these functions.
package capi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/npillmayer/schuko/tracing"

	"github.com/ByLCY/papyrus/compiler"
	"github.com/ByLCY/papyrus/config"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/renderer"
)

// tracer writes to trace with key 'papyrus.capi'
func tracer() tracing.Trace {
	return tracing.Select("papyrus.capi")
}

// Handle identifies a compilation result. Zero is never a valid handle.
type Handle uint64

// Request is the JSON a host passes to compile and query.
type Request struct {
	// Root is the project directory; sources cannot escape it.
	Root string `json:"root"`
	Main string `json:"main"`
	// Overlays hold unsaved file contents keyed by path below Root.
	Overlays map[string]string `json:"overlays,omitempty"`
	Config   json.RawMessage   `json:"config,omitempty"`
	// ConfigFile names a JSON or HCL (.hcl) configuration file, relative
	// to Root. It excludes Config.
	ConfigFile string `json:"configFile,omitempty"`
}

func (r Request) compilerRequest() (compiler.Request, error) {
	dir := r.Root
	if dir == "" {
		dir = "."
	}
	cfg, err := r.config(dir)
	if err != nil {
		return compiler.Request{}, err
	}
	req := compiler.Request{Main: r.Main, Dir: dir, Config: cfg}
	req.FS = os.DirFS(req.Dir)
	if len(r.Overlays) > 0 {
		req.Overlays = make(map[string][]byte, len(r.Overlays))
		for p, text := range r.Overlays {
			req.Overlays[p] = []byte(text)
		}
	}
	return req, nil
}

func (r Request) config(dir string) (*config.Config, error) {
	if r.ConfigFile == "" {
		return config.Parse(r.Config)
	}
	if len(bytes.TrimSpace(r.Config)) > 0 {
		return nil, fmt.Errorf("config and configFile are mutually exclusive")
	}
	path := r.ConfigFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return config.Load(path)
}

func parseRequest(data []byte) (compiler.Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return compiler.Request{}, err
	}
	return r.compilerRequest()
}

type entry struct {
	res      *compiler.Result
	releases []func()
}

// Registry owns compilation results until they are released.
type Registry struct {
	mu      sync.Mutex
	next    Handle
	entries map[Handle]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[Handle]*entry{}}
}

// Default is the registry used by the exported C functions.
var Default = NewRegistry()

// Formats returns the supported export formats as a JSON array.
func Formats() string {
	data, _ := json.Marshal(renderer.Formats())
	return string(data)
}

// Compile compiles the request JSON and registers the result. Malformed
// requests still yield a handle whose result carries a Fatal diagnostic.
func (r *Registry) Compile(ctx context.Context, request []byte) Handle {
	req, err := parseRequest(request)
	var res *compiler.Result
	if err != nil {
		res = &compiler.Result{Stage: compiler.StageFailed, Diagnostics: diag.List{
			diag.Errorf(diag.ErrFatal, diag.Detached, "invalid request: %v", err),
		}}
	} else {
		res = compiler.Compile(ctx, req)
	}
	return r.add(res)
}

func (r *Registry) add(res *compiler.Result) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries[r.next] = &entry{res: res}
	tracer().Debugf("registered result %d (%s)", r.next, res.Stage)
	return r.next
}

// Result returns the result behind h.
func (r *Registry) Result(h Handle) (*compiler.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return nil, false
	}
	return e.res, true
}

// ResultJSON returns the report of h, or "" for unknown handles.
func (r *Registry) ResultJSON(h Handle) string {
	res, ok := r.Result(h)
	if !ok {
		return ""
	}
	data, err := res.JSON()
	if err != nil {
		return ""
	}
	return string(data)
}

// PageCount returns the number of artifact buffers, -1 for unknown handles.
func (r *Registry) PageCount(h Handle) int {
	res, ok := r.Result(h)
	if !ok {
		return -1
	}
	if res.Artifact == nil {
		return 0
	}
	return len(res.Artifact.Pages)
}

// Page returns artifact buffer i of h. The slice must not be modified.
func (r *Registry) Page(h Handle, i int) ([]byte, bool) {
	res, ok := r.Result(h)
	if !ok || res.Artifact == nil || i < 0 || i >= len(res.Artifact.Pages) {
		return nil, false
	}
	return res.Artifact.Pages[i], true
}

// PageSize returns the byte size of buffer i, -1 when it does not exist.
func (r *Registry) PageSize(h Handle, i int) int {
	page, ok := r.Page(h, i)
	if !ok {
		return -1
	}
	return len(page)
}

// CopyPage copies buffer i into dst and returns the number of bytes
// written, or -1 when the buffer does not exist or dst is too small.
func (r *Registry) CopyPage(h Handle, i int, dst []byte) int {
	page, ok := r.Page(h, i)
	if !ok || len(dst) < len(page) {
		return -1
	}
	return copy(dst, page)
}

// OnRelease registers fn to run when h is released. It reports false for
// unknown handles, in which case fn is not kept.
func (r *Registry) OnRelease(h Handle, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return false
	}
	e.releases = append(e.releases, fn)
	return true
}

// Release drops h and runs its release hooks. Releasing twice is a no-op
// that reports false.
func (r *Registry) Release(h Handle) bool {
	r.mu.Lock()
	e, ok := r.entries[h]
	delete(r.entries, h)
	r.mu.Unlock()
	if !ok {
		return false
	}
	for _, fn := range e.releases {
		fn()
	}
	return true
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Envelope wraps the output of query, eval and syntax.
type Envelope struct {
	OK          bool                        `json:"ok"`
	Value       json.RawMessage             `json:"value,omitempty"`
	Diagnostics []compiler.DiagnosticReport `json:"diagnostics"`
}

func envelope(value []byte, list diag.List, err error) string {
	env := Envelope{OK: err == nil, Diagnostics: compiler.Diagnostics(list)}
	if err != nil {
		env.Diagnostics = append(env.Diagnostics, compiler.Diagnostics(diag.From(err).Errors())...)
	} else {
		env.Value = value
	}
	data, _ := json.Marshal(env)
	return string(data)
}

// Query compiles request up to layout and selects elements. format is
// json, json-pretty or yaml; yaml output is carried as a JSON string.
func Query(ctx context.Context, request []byte, selector, format string) string {
	req, err := parseRequest(request)
	if err != nil {
		return envelope(nil, nil, diag.New(diag.Errorf(diag.ErrFatal, diag.Detached, "invalid request: %v", err)))
	}
	out, res, err := compiler.Query(ctx, req, selector, format)
	var warns diag.List
	if res != nil {
		warns = res.Warnings()
	}
	if err == nil && format == compiler.QueryYAML {
		out, _ = json.Marshal(string(out))
	}
	return envelope(out, warns, err)
}

// Eval evaluates code detached from any document. configJSON may be empty.
func Eval(code string, configJSON []byte) string {
	cfg, err := config.Parse(configJSON)
	if err != nil {
		return envelope(nil, nil, diag.New(diag.Errorf(diag.ErrFatal, diag.Detached, "%v", err)))
	}
	out, err := compiler.Eval(code, cfg)
	return envelope(out, nil, err)
}

// Syntax returns the flattened marks of request.main.
func Syntax(request []byte) string {
	req, err := parseRequest(request)
	if err != nil {
		return envelope(nil, nil, diag.New(diag.Errorf(diag.ErrFatal, diag.Detached, "invalid request: %v", err)))
	}
	marks, errs, err := compiler.Syntax(req)
	if err != nil {
		return envelope(nil, nil, err)
	}
	data, _ := json.Marshal(marks)
	return envelope(data, errs, nil)
}
