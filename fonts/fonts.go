// Package fonts keeps the font book shared by all compilations of a
// process. The builtin Go and Latin Modern faces are always available; font
// search paths are scanned lazily on the first lookup that needs them.
package fonts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-fonts/latin-modern/lmmono10italic"
	"github.com/go-fonts/latin-modern/lmmono10regular"
	"github.com/go-fonts/latin-modern/lmroman10bold"
	"github.com/go-fonts/latin-modern/lmroman10bolditalic"
	"github.com/go-fonts/latin-modern/lmroman10italic"
	"github.com/go-fonts/latin-modern/lmroman10regular"
	"github.com/npillmayer/schuko/tracing"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

// tracer writes to trace with key 'papyrus.fonts'
func tracer() tracing.Trace {
	return tracing.Select("papyrus.fonts")
}

// Builtin family names. Sans is used when a spec names no family. The
// Latin Modern faces have CFF outlines.
const (
	Sans      = "Go"
	Mono      = "Go Mono"
	Serif     = "Latin Modern Roman"
	SerifMono = "Latin Modern Mono"
)

// Spec selects a face from the book.
type Spec struct {
	Family string `json:"family,omitempty"`
	Bold   bool   `json:"bold,omitempty"`
	Italic bool   `json:"italic,omitempty"`
}

// Style names the face variant: regular, bold, italic or bolditalic.
func (s Spec) Style() string {
	switch {
	case s.Bold && s.Italic:
		return "bolditalic"
	case s.Bold:
		return "bold"
	case s.Italic:
		return "italic"
	}
	return "regular"
}

func (s Spec) String() string {
	fam := s.Family
	if fam == "" {
		fam = Sans
	}
	return fam + " " + s.Style()
}

// Face is one font file of the book.
type Face struct {
	Family  string
	Style   string
	Path    string
	Builtin bool

	once sync.Once
	data []byte
	err  error
}

// Bytes returns the font file contents, reading files from disk on first use.
func (f *Face) Bytes() ([]byte, error) {
	f.once.Do(func() {
		if f.data != nil {
			return
		}
		f.data, f.err = os.ReadFile(f.Path)
		if f.err != nil {
			f.err = fmt.Errorf("读取字体 %s 失败: %w", f.Path, f.err)
		}
	})
	return f.data, f.err
}

// TrueType reports whether the face has glyf outlines. Faces with CFF
// outlines ("OTTO" files) cannot be rasterized.
func (f *Face) TrueType() bool {
	data, err := f.Bytes()
	return err == nil && !bytes.HasPrefix(data, []byte("OTTO"))
}

// Monospace reports whether the family name marks a fixed-width family.
func (f *Face) Monospace() bool {
	return strings.Contains(strings.ToLower(f.Family), "mono")
}

// Book indexes faces by family and style. It is safe for concurrent use;
// the index is populated lazily under the write lock. A book made by With
// shadows its parent and never modifies it.
type Book struct {
	parent  *Book
	mu      sync.RWMutex
	paths   []string
	scanned bool
	faces   map[string]map[string]*Face // lower-case family -> style
	names   map[string]string           // lower-case family -> display name
}

// NewBook creates a book that will scan paths in addition to the builtin faces.
func NewBook(paths ...string) *Book {
	b := &Book{
		faces: map[string]map[string]*Face{},
		names: map[string]string{},
	}
	b.addBuiltins()
	b.paths = append(b.paths, paths...)
	return b
}

var (
	sharedOnce sync.Once
	shared     *Book
)

// With returns a book that scans paths on top of b. Faces found there take
// precedence; everything else is looked up in b. With(nothing) is b.
func (b *Book) With(paths ...string) *Book {
	if len(paths) == 0 {
		return b
	}
	child := &Book{
		parent: b,
		faces:  map[string]map[string]*Face{},
		names:  map[string]string{},
	}
	child.AddPaths(paths...)
	return child
}

// Shared returns the process-wide book, creating it on first call.
func Shared() *Book {
	sharedOnce.Do(func() {
		shared = NewBook()
	})
	return shared
}

func (b *Book) addBuiltins() {
	for _, f := range []struct {
		family, style string
		data          []byte
	}{
		{Sans, "regular", goregular.TTF},
		{Sans, "bold", gobold.TTF},
		{Sans, "italic", goitalic.TTF},
		{Sans, "bolditalic", gobolditalic.TTF},
		{Mono, "regular", gomono.TTF},
		{Mono, "bold", gomonobold.TTF},
		{Mono, "italic", gomonoitalic.TTF},
		{Mono, "bolditalic", gomonobolditalic.TTF},
		{Serif, "regular", lmroman10regular.TTF},
		{Serif, "bold", lmroman10bold.TTF},
		{Serif, "italic", lmroman10italic.TTF},
		{Serif, "bolditalic", lmroman10bolditalic.TTF},
		{SerifMono, "regular", lmmono10regular.TTF},
		{SerifMono, "italic", lmmono10italic.TTF},
	} {
		b.insert(&Face{Family: f.family, Style: f.style, Builtin: true, data: f.data})
	}
}

// AddPaths registers further search paths. They are scanned on the next
// lookup.
func (b *Book) AddPaths(paths ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range paths {
		if p == "" || contains(b.paths, p) {
			continue
		}
		b.paths = append(b.paths, p)
		b.scanned = false
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func (b *Book) insert(f *Face) {
	key := strings.ToLower(f.Family)
	styles, ok := b.faces[key]
	if !ok {
		styles = map[string]*Face{}
		b.faces[key] = styles
		b.names[key] = f.Family
	}
	if _, exists := styles[f.Style]; !exists {
		styles[f.Style] = f
	}
}

// Lookup finds the face for spec. A missing style falls back to the
// family's regular face.
func (b *Book) Lookup(spec Spec) (*Face, bool) {
	family := spec.Family
	if family == "" {
		family = Sans
	}
	if f, ok := b.lookup(strings.ToLower(family), spec.Style()); ok {
		return f, true
	}
	if b.parent != nil {
		return b.parent.Lookup(spec)
	}
	return nil, false
}

func (b *Book) lookup(key, style string) (*Face, bool) {
	b.ensureScanned()
	b.mu.RLock()
	defer b.mu.RUnlock()
	styles, ok := b.faces[key]
	if !ok {
		return nil, false
	}
	if f, ok := styles[style]; ok {
		return f, true
	}
	if f, ok := styles["regular"]; ok {
		return f, true
	}
	return nil, false
}

// Resolve is Lookup with fallback to the builtin sans family. The boolean
// reports whether the requested family was found.
func (b *Book) Resolve(spec Spec) (*Face, bool) {
	if f, ok := b.Lookup(spec); ok {
		return f, true
	}
	tracer().Debugf("font %s not found, using %s", spec, Sans)
	f, _ := b.Lookup(Spec{Family: Sans, Bold: spec.Bold, Italic: spec.Italic})
	return f, false
}

// Families lists the known family names in sorted order.
func (b *Book) Families() []string {
	seen := map[string]string{}
	for book := b; book != nil; book = book.parent {
		book.ensureScanned()
		book.mu.RLock()
		for key, n := range book.names {
			if _, ok := seen[key]; !ok {
				seen[key] = n
			}
		}
		book.mu.RUnlock()
	}
	out := make([]string, 0, len(seen))
	for _, n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (b *Book) ensureScanned() {
	b.mu.RLock()
	done := b.scanned
	b.mu.RUnlock()
	if done {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scanned {
		return
	}
	for _, root := range b.paths {
		b.scan(root)
	}
	b.scanned = true
}

// scan walks root for TrueType and OpenType files. Unreadable files are
// skipped.
func (b *Book) scan(root string) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".ttf", ".otf":
		default:
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			tracer().Debugf("skip font %s: %v", path, err)
			return nil
		}
		family, style, err := describe(data)
		if err != nil {
			tracer().Debugf("skip font %s: %v", path, err)
			return nil
		}
		b.insert(&Face{Family: family, Style: style, Path: path})
		return nil
	})
	if err != nil {
		tracer().Errorf("scan font path %s: %v", root, err)
	}
}

// describe reads family and style from the name table of a font file.
func describe(data []byte) (string, string, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return "", "", fmt.Errorf("解析字体失败: %w", err)
	}
	var buf sfnt.Buffer
	family, err := f.Name(&buf, sfnt.NameIDTypographicFamily)
	if err != nil || family == "" {
		family, err = f.Name(&buf, sfnt.NameIDFamily)
		if err != nil {
			return "", "", fmt.Errorf("字体缺少 family 名称: %w", err)
		}
	}
	sub, err := f.Name(&buf, sfnt.NameIDTypographicSubfamily)
	if err != nil || sub == "" {
		sub, _ = f.Name(&buf, sfnt.NameIDSubfamily)
	}
	return family, styleOf(sub), nil
}

func styleOf(sub string) string {
	s := strings.ToLower(sub)
	bold := strings.Contains(s, "bold") || strings.Contains(s, "black") || strings.Contains(s, "heavy")
	italic := strings.Contains(s, "italic") || strings.Contains(s, "oblique")
	return Spec{Bold: bold, Italic: italic}.Style()
}
