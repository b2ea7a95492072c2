// Package source loads document files and resolves imports between them.
//
// All paths are slash-separated and relative to the loader's root. A file is
// read at most once per Session; the Session also tracks the chain of active
// imports so cycles are reported instead of recursing forever.
package source

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/npillmayer/schuko/tracing"
	"golang.org/x/text/unicode/norm"

	"github.com/ByLCY/papyrus/diag"
)

// tracer writes to trace with key 'papyrus.source'
func tracer() tracing.Trace {
	return tracing.Select("papyrus.source")
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// File is one loaded source text with a line index.
type File struct {
	Path  string
	Text  string
	lines []int
}

// NewFile builds a File from already decoded text.
func NewFile(p, text string) *File {
	f := &File{Path: p, Text: text, lines: []int{0}}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			f.lines = append(f.lines, i+1)
		}
	}
	return f
}

// LineCol returns the 1-based line and column (in runes) of a byte offset.
func (f *File) LineCol(offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(f.Text) {
		offset = len(f.Text)
	}
	i := sort.Search(len(f.lines), func(i int) bool { return f.lines[i] > offset }) - 1
	if i < 0 {
		i = 0
	}
	col := utf8.RuneCountInString(f.Text[f.lines[i]:offset]) + 1
	return i + 1, col
}

// Span returns a diagnostic span over [start, end) with line and column set.
func (f *File) Span(start, end int) diag.Span {
	line, col := f.LineCol(start)
	return diag.Span{File: f.Path, Start: start, End: end, Line: line, Col: col}
}

// Fingerprint is a sha256 over the normalised text.
func (f *File) Fingerprint() string {
	sum := sha256.Sum256([]byte(f.Text))
	return hex.EncodeToString(sum[:])
}

// Document is the root file of a compilation plus every file loaded for it.
type Document struct {
	Root  string
	Files map[string]*File
}

// File returns a loaded file by path.
func (d *Document) File(p string) (*File, bool) {
	f, ok := d.Files[p]
	return f, ok
}

// Locate fills in line and column of every span in list that points into a
// file of the document.
func (d *Document) Locate(list diag.List) {
	fill := func(s *diag.Span) {
		if s.Line != 0 {
			return
		}
		if f, ok := d.Files[s.File]; ok {
			s.Line, s.Col = f.LineCol(s.Start)
		}
	}
	for i := range list {
		fill(&list[i].Span)
		for j := range list[i].Trace {
			fill(&list[i].Trace[j])
		}
	}
}

// Loader reads files from a file system. Overlay entries shadow files of the
// same path.
type Loader struct {
	fsys    fs.FS
	mu      sync.RWMutex
	overlay map[string][]byte
}

// NewLoader creates a loader over fsys. fsys may be nil when every file is
// supplied through overlays.
func NewLoader(fsys fs.FS) *Loader {
	return &Loader{fsys: fsys, overlay: map[string][]byte{}}
}

// SetOverlay places in-memory content at p.
func (l *Loader) SetOverlay(p string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overlay[path.Clean(strings.TrimPrefix(p, "/"))] = data
}

// Load reads the root file of a document.
func (l *Loader) Load(p string) (*Document, error) {
	clean, err := Clean(p)
	if err != nil {
		return nil, err
	}
	f, err := l.readText(clean, diag.Detached)
	if err != nil {
		return nil, err
	}
	return &Document{Root: clean, Files: map[string]*File{clean: f}}, nil
}

// Clean validates a root-relative path. Paths escaping the root are denied.
func Clean(p string) (string, error) {
	c := path.Clean(strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/"))
	if c == ".." || strings.HasPrefix(c, "../") || !fs.ValidPath(c) || c == "." {
		return "", diag.New(diag.Errorf(diag.ErrIO, diag.Detached, "access denied: %s is outside the project root", p))
	}
	return c, nil
}

// Resolve joins rel against the directory of from. A leading slash makes rel
// root-relative.
func Resolve(from, rel string) (string, error) {
	if strings.HasPrefix(rel, "/") {
		return Clean(rel)
	}
	joined := path.Join(path.Dir(from), rel)
	if strings.HasPrefix(joined, "../") || joined == ".." {
		return "", diag.New(diag.Errorf(diag.ErrIO, diag.Detached, "access denied: %s is outside the project root", rel))
	}
	return Clean(joined)
}

func (l *Loader) read(p string) ([]byte, error) {
	l.mu.RLock()
	data, ok := l.overlay[p]
	l.mu.RUnlock()
	if ok {
		return data, nil
	}
	if l.fsys == nil {
		return nil, fs.ErrNotExist
	}
	return fs.ReadFile(l.fsys, p)
}

func (l *Loader) readText(p string, at diag.Span) (*File, error) {
	data, err := l.read(p)
	if err != nil {
		return nil, ioError(p, at, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, diag.New(diag.Errorf(diag.ErrIO, at, "file %s is not valid UTF-8", p))
	}
	text := norm.NFC.String(string(data))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	tracer().Debugf("loaded %s (%d bytes)", p, len(text))
	return NewFile(p, text), nil
}

func ioError(p string, at diag.Span, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return diag.New(diag.Errorf(diag.ErrIO, at, "file not found: %s", p))
	case errors.Is(err, fs.ErrPermission):
		return diag.New(diag.Errorf(diag.ErrIO, at, "access denied: %s", p))
	}
	return diag.New(diag.Errorf(diag.ErrIO, at, "failed to read %s: %v", p, err))
}

// Session scopes file reads to one compilation.
type Session struct {
	loader *Loader
	doc    *Document
	bins   map[string][]byte
	stack  []string
}

// NewSession starts a compilation over doc. The root file is the first entry
// on the import stack.
func NewSession(l *Loader, doc *Document) *Session {
	return &Session{loader: l, doc: doc, bins: map[string][]byte{}, stack: []string{doc.Root}}
}

// Document returns the document being compiled.
func (s *Session) Document() *Document { return s.doc }

// Import resolves rel from the importing file and returns the target,
// loading it on first use. It fails with a CyclicImport diagnostic when the
// target is already being evaluated.
func (s *Session) Import(from, rel string, at diag.Span) (*File, error) {
	p, err := Resolve(from, rel)
	if err != nil {
		return nil, withSpan(err, at)
	}
	for _, active := range s.stack {
		if active == p {
			chain := append(append([]string(nil), s.stack...), p)
			d := diag.Errorf(diag.ErrCyclicImport, at, "cyclic import of %s", p).
				WithHint("import chain: %s", strings.Join(chain, " -> "))
			return nil, diag.New(d)
		}
	}
	if f, ok := s.doc.Files[p]; ok {
		return f, nil
	}
	f, err := s.loader.readText(p, at)
	if err != nil {
		return nil, err
	}
	s.doc.Files[p] = f
	return f, nil
}

// Enter pushes p on the import stack; Leave pops it.
func (s *Session) Enter(p string) { s.stack = append(s.stack, p) }

// Leave pops the innermost import.
func (s *Session) Leave() {
	if len(s.stack) > 0 {
		s.stack = s.stack[:len(s.stack)-1]
	}
}

// ReadBytes reads a binary resource such as an image relative to from.
func (s *Session) ReadBytes(from, rel string, at diag.Span) ([]byte, error) {
	p, err := Resolve(from, rel)
	if err != nil {
		return nil, withSpan(err, at)
	}
	if data, ok := s.bins[p]; ok {
		return data, nil
	}
	data, err := s.loader.read(p)
	if err != nil {
		return nil, ioError(p, at, err)
	}
	s.bins[p] = data
	return data, nil
}

func withSpan(err error, at diag.Span) error {
	var de *diag.Error
	if errors.As(err, &de) {
		out := make(diag.List, len(de.Diagnostics))
		for i, d := range de.Diagnostics {
			if d.Span.IsDetached() {
				d.Span = at
			}
			out[i] = d
		}
		return &diag.Error{Diagnostics: out}
	}
	return err
}
