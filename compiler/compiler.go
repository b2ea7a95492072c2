// Package compiler runs the document pipeline: load, parse, evaluate, lay
// out and export. A compilation is sequential; independent compilations may
// run concurrently and share only the font book.
package compiler

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/npillmayer/schuko/tracing"

	"github.com/ByLCY/papyrus/config"
	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/eval"
	"github.com/ByLCY/papyrus/fonts"
	"github.com/ByLCY/papyrus/layout"
	"github.com/ByLCY/papyrus/renderer"
	canvasrenderer "github.com/ByLCY/papyrus/renderer/canvas"
	_ "github.com/ByLCY/papyrus/renderer/html"
	"github.com/ByLCY/papyrus/source"
	"github.com/ByLCY/papyrus/syntax"
)

// tracer writes to trace with key 'papyrus.compiler'
func tracer() tracing.Trace {
	return tracing.Select("papyrus.compiler")
}

// Request describes one compilation.
type Request struct {
	// Main is the path of the root file inside FS.
	Main string
	// FS serves sources and images. Nil selects os.DirFS(Dir).
	FS  fs.FS
	Dir string
	// Overlays shadow files of FS, keyed by path.
	Overlays map[string][]byte
	// Config nil selects config.Default().
	Config *config.Config
	// Fonts nil selects fonts.Shared().
	Fonts *fonts.Book
	// Typesetter nil measures with the fonts of the book.
	Typesetter layout.Typesetter
}

// Result is the outcome of a compilation. Diagnostics holds errors and
// warnings of every stage that ran, sorted by position.
type Result struct {
	Stage       Stage
	Format      renderer.Format
	Document    *source.Document
	Content     *content.Node
	Layout      *layout.Result
	Artifact    *renderer.Artifact
	Diagnostics diag.List
}

// Failed reports whether the compilation ended in StageFailed.
func (r *Result) Failed() bool { return r.Stage == StageFailed }

// Err returns the error diagnostics as an error, nil on success.
func (r *Result) Err() error {
	if !r.Failed() {
		return nil
	}
	if err := r.Diagnostics.Err(); err != nil {
		return err
	}
	return fmt.Errorf("compilation failed")
}

// Warnings returns the warning diagnostics.
func (r *Result) Warnings() diag.List { return r.Diagnostics.Warnings() }

// pipeline carries one compilation through its stages.
type pipeline struct {
	ctx    context.Context
	req    Request
	cfg    *config.Config
	book   *fonts.Book
	loader *source.Loader
	tree   *syntax.Node
	res    *Result
}

// Compile runs every stage and exports in the configured format.
func Compile(ctx context.Context, req Request) *Result {
	return run(ctx, req, StageExported)
}

func run(ctx context.Context, req Request, until Stage) *Result {
	p := &pipeline{ctx: ctx, req: req, res: &Result{}}
	p.cfg = req.Config
	if p.cfg == nil {
		p.cfg = config.Default()
	}
	p.res.Format = renderer.Format(p.cfg.Format)
	steps := []struct {
		to Stage
		fn func() error
	}{
		{StageLoaded, p.load},
		{StageParsed, p.parse},
		{StageEvaluated, p.evaluate},
		{StageLaidOut, p.layout},
		{StageExported, p.export},
	}
	for _, step := range steps {
		if step.to > until {
			break
		}
		if err := ctx.Err(); err != nil {
			p.fail(diag.List{diag.Errorf(diag.ErrFatal, diag.Detached, "compilation cancelled: %v", err)})
			break
		}
		if err := step.fn(); err != nil {
			p.fail(diag.From(err))
			break
		}
		p.advance(step.to)
	}
	if p.res.Document != nil {
		p.res.Document.Locate(p.res.Diagnostics)
	}
	p.res.Diagnostics = p.res.Diagnostics.Sorted()
	tracer().Debugf("compilation of %s ended in stage %s with %d diagnostics", req.Main, p.res.Stage, len(p.res.Diagnostics))
	return p.res
}

func (p *pipeline) advance(to Stage) {
	if !p.res.Stage.CanAdvance(to) {
		panic(fmt.Sprintf("compiler: invalid stage transition %s -> %s", p.res.Stage, to))
	}
	p.res.Stage = to
}

func (p *pipeline) fail(list diag.List) {
	p.res.Diagnostics.Add(list...)
	tracer().Errorf("stage %s failed: %v", p.res.Stage+1, list.Err())
	p.advance(StageFailed)
}

func (p *pipeline) warn(list diag.List) {
	p.res.Diagnostics.Add(list...)
}

func (p *pipeline) load() error {
	if err := p.cfg.Validate(); err != nil {
		return diag.New(diag.Errorf(diag.ErrUnsupported, diag.Detached, "invalid configuration: %v", err))
	}
	p.loader = newLoader(p.req)
	doc, err := p.loader.Load(p.req.Main)
	if err != nil {
		return err
	}
	p.res.Document = doc
	return nil
}

func newLoader(req Request) *source.Loader {
	fsys := req.FS
	if fsys == nil {
		dir := req.Dir
		if dir == "" {
			dir = "."
		}
		fsys = os.DirFS(dir)
	}
	l := source.NewLoader(fsys)
	for path, data := range req.Overlays {
		l.SetOverlay(path, data)
	}
	return l
}

func (p *pipeline) parse() error {
	doc := p.res.Document
	root := doc.Files[doc.Root]
	p.tree = syntax.Parse(root.Path, root.Text)
	return syntax.Errors(p.tree).Err()
}

func (p *pipeline) evaluate() error {
	now, err := p.cfg.Time()
	if err != nil {
		return err
	}
	out, warns, err := eval.Evaluate(p.tree, eval.Options{
		Session:     source.NewSession(p.loader, p.res.Document),
		Inputs:      p.cfg.Inputs,
		Interpolate: p.cfg.Interpolate,
		Now:         now,
	})
	p.warn(warns)
	if err != nil {
		return err
	}
	p.res.Content = out
	return nil
}

func (p *pipeline) fontBook() *fonts.Book {
	if p.book != nil {
		return p.book
	}
	base := p.req.Fonts
	if base == nil {
		base = fonts.Shared()
	}
	// 请求级字体目录只进入子字体库，共享库保持不变
	p.book = base.With(p.cfg.FontPaths...)
	return p.book
}

func (p *pipeline) layout() error {
	ts := p.req.Typesetter
	var canvasTS *canvasrenderer.Typesetter
	if ts == nil {
		canvasTS = canvasrenderer.NewTypesetter(p.fontBook())
		ts = canvasTS
	}
	w, h := p.cfg.PageSize()
	var warns diag.List
	res, err := layout.Build(p.res.Content, layout.BuildOptions{
		Typesetter:  ts,
		Width:       w,
		Height:      h,
		Margin:      layout.Uniform(p.cfg.MarginAbs()),
		FontSize:    p.cfg.FontSizeAbs(),
		Diagnostics: &warns,
		Debug:       layout.DebugOptions{Spans: p.cfg.DebugSpans},
	})
	p.warn(warns)
	if err != nil {
		return diag.New(diag.Errorf(diag.ErrFatal, diag.Detached, "%v", err))
	}
	if canvasTS != nil && canvasTS.Err != nil {
		p.warn(diag.List{diag.Warnf(diag.ErrIO, diag.Detached, "font measurement fell back to fixed metrics: %v", canvasTS.Err)})
	}
	p.res.Layout = res
	return nil
}

func (p *pipeline) export() error {
	art, err := renderer.Export(p.ctx, p.res.Layout, p.res.Format, renderer.Options{
		PPI:      p.cfg.PPI,
		PageFrom: p.cfg.PageFrom,
		PageTo:   p.cfg.PageTo,
		Workers:  p.cfg.Workers,
		Fonts:    p.fontBook(),
	})
	if err != nil {
		return err
	}
	p.warn(art.Warnings)
	p.res.Artifact = art
	return nil
}
