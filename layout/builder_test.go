package layout

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/units"
)

// 测试统一使用 100pt x 140pt、无边距的页面与 10pt 字号：
// FixedTypesetter 下每字符 5pt，每行 20 个字符，行高 14pt，每页 10 行。
func testOptions(diags *diag.List) BuildOptions {
	return BuildOptions{
		Typesetter:  FixedTypesetter{},
		Width:       units.FromPt(100),
		Height:      units.FromPt(140),
		FontSize:    units.FromPt(10),
		Diagnostics: diags,
	}
}

const pageCapacity = 200

func text(s string) *content.Node { return content.Text(s, diag.Span{}) }

func build(t *testing.T, tree *content.Node, diags *diag.List) *Result {
	t.Helper()
	res, err := Build(tree, testOptions(diags))
	if err != nil {
		t.Fatalf("布局计算失败: %v", err)
	}
	return res
}

// texts 按文档顺序收集一页中的文本。
func texts(p Page) []string {
	var out []string
	p.Frame.Walk(0, 0, func(it *Item, x, y units.Abs) {
		if it.Kind == ItemText {
			out = append(out, it.Text.Text)
		}
	})
	return out
}

func TestPlainTextPageCount(t *testing.T) {
	for _, n := range []int{1, pageCapacity - 1, pageCapacity, pageCapacity + 1, 450, 1000} {
		res := build(t, content.Sequence(text(strings.Repeat("x", n))), nil)
		want := (n + pageCapacity - 1) / pageCapacity
		if len(res.Pages) != want {
			t.Errorf("N=%d: got %d pages, want %d", n, len(res.Pages), want)
		}
	}
}

func TestMissingTypesetter(t *testing.T) {
	if _, err := Build(text("x"), BuildOptions{}); err == nil {
		t.Fatalf("expected an error without typesetter")
	}
}

func TestWrapModes(t *testing.T) {
	cases := map[string][]string{
		content.WrapAnywhere:  {"aaa bbb ccc", "dddddddddddddddddddd", "d"},
		content.WrapBreakWord: {"aaa bbb ccc dddddddd", "ddddddddddddd"},
		content.WrapNowrap:    {"aaa bbb ccc ddddddddddddddddddddd"},
	}
	for wrap, want := range cases {
		tree := &content.Node{
			Kind:     content.KindStyled,
			Style:    &content.Style{Wrap: wrap},
			Children: []*content.Node{text("aaa bbb ccc ddddddddddddddddddddd")},
		}
		res := build(t, tree, nil)
		got := texts(res.Pages[0])
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("%s: got %q, want %q", wrap, got, want)
		}
	}
}

func TestAlignCenter(t *testing.T) {
	tree := &content.Node{Kind: content.KindAlign, Align: content.AlignCenter, Children: []*content.Node{text("ab")}}
	res := build(t, tree, nil)
	var x units.Abs = -1
	res.Pages[0].Frame.Walk(0, 0, func(it *Item, ax, ay units.Abs) {
		if it.Kind == ItemText {
			x = ax
		}
	})
	if x != units.FromPt(45) {
		t.Fatalf("centered run at %s, want 45pt", x)
	}
}

func TestOversizedImageIsScaled(t *testing.T) {
	var diags diag.List
	img := &content.Node{Kind: content.KindImage, Image: &content.Image{Path: "big.png", Format: "png", PixelW: 2000, PixelH: 1000}}
	res := build(t, content.Sequence(img), &diags)
	if len(res.Pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(res.Pages))
	}
	var box *ImageBox
	res.Pages[0].Frame.Walk(0, 0, func(it *Item, x, y units.Abs) {
		if it.Kind == ItemImage {
			box = it.Image
		}
	})
	if box == nil {
		t.Fatalf("image not placed")
	}
	if d := box.Width - units.FromPt(100); d < -1 || d > 1 {
		t.Errorf("width = %s, want 100pt", box.Width)
	}
	if d := box.Height - units.FromPt(50); d < -1 || d > 1 {
		t.Errorf("height = %s, want 50pt", box.Height)
	}
	if len(diags) != 1 || !errors.Is(diags[0].Kind, diag.ErrOverflow) || diags[0].Severity != diag.SeverityWarning {
		t.Fatalf("expected one LayoutOverflow warning, got %v", diags)
	}
}

func TestPagebreakAndPageSetup(t *testing.T) {
	setup := &content.Node{Kind: content.KindPage, Page: &content.PageSetup{Paper: "a5", Numbering: "1 / N"}}
	tree := content.Sequence(text("one"), &content.Node{Kind: content.KindPagebreak}, setup, text("two"))
	res := build(t, tree, nil)
	if len(res.Pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(res.Pages))
	}
	if res.Pages[0].Width != units.FromPt(100) {
		t.Errorf("first page changed size: %s", res.Pages[0].Width)
	}
	w, h, _ := units.Paper("A5")
	if res.Pages[1].Width != w || res.Pages[1].Height != h {
		t.Errorf("second page is %sx%s, want A5", res.Pages[1].Width, res.Pages[1].Height)
	}
	if got := texts(res.Pages[0]); len(got) != 1 {
		t.Errorf("first page texts = %q, want only the body", got)
	}
	got := texts(res.Pages[1])
	if len(got) != 2 || got[0] != "two" || got[1] != "2 / 2" {
		t.Errorf("second page texts = %q", got)
	}
}

func TestHeadingAnchors(t *testing.T) {
	heading := &content.Node{Kind: content.KindHeading, Level: 2, Children: []*content.Node{text("Results")}}
	tree := content.Sequence(text(strings.Repeat("x", pageCapacity)), heading)
	res := build(t, tree, nil)
	page, ok := res.PageOf(heading)
	if !ok || page != 2 {
		t.Fatalf("heading on page %d (found %v), want 2", page, ok)
	}
	if a := res.Anchors[0]; a.Label != "Results" || a.Level != 2 || a.Kind != "heading" {
		t.Errorf("unexpected anchor %+v", a)
	}
	if _, ok := res.PageOf(text("x")); ok {
		t.Errorf("plain text should not be anchored")
	}
}

func TestTableHeaderRepeats(t *testing.T) {
	tbl := &content.Table{Columns: 2, Header: true, Inset: units.Pts(5)}
	tbl.Cells = append(tbl.Cells, text("H1"), text("H2"))
	for i := 0; i < 7; i++ {
		tbl.Cells = append(tbl.Cells, text("a"), text("b"))
	}
	res := build(t, &content.Node{Kind: content.KindTable, Table: tbl}, nil)
	if len(res.Pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(res.Pages))
	}
	got := texts(res.Pages[1])
	if len(got) != 8 || got[0] != "H1" || got[1] != "H2" {
		t.Fatalf("second page texts = %q", got)
	}
}

func TestEnumMarkers(t *testing.T) {
	item := func(s string, start int) *content.Node {
		return &content.Node{Kind: content.KindEnumItem, Level: start, Children: []*content.Node{text(s)}}
	}
	tree := content.Sequence(item("a", 0), item("b", 0), &content.Node{Kind: content.KindParbreak}, item("c", 7))
	got := texts(build(t, tree, nil).Pages[0])
	want := []string{"1.", "a", "2.", "b", "7.", "c"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWriteDebugJSON(t *testing.T) {
	var buf bytes.Buffer
	res := build(t, text("hello"), nil)
	if err := WriteDebugJSON(&buf, res); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"role": "page"`, `"role": "body"`, `"text": "hello"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("debug JSON lacks %s", want)
		}
	}
}
