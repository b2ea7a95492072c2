package layout

import (
	"unicode/utf8"

	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/fonts"
	"github.com/ByLCY/papyrus/units"
)

// BuildOptions 配置布局阶段所需的依赖，例如排版后端与默认页面。
type BuildOptions struct {
	Typesetter Typesetter
	// Width and Height of the initial page. Zero selects A4.
	Width  units.Abs
	Height units.Abs
	Margin Margin
	// FontSize is the base text size. Zero selects 11pt.
	FontSize units.Abs
	// Font is the default family. Empty selects the builtin serif.
	Font string
	// Diagnostics receives LayoutOverflow warnings. May be nil.
	Diagnostics *diag.List
	Debug       DebugOptions
}

// DebugOptions 控制调试相关输出。
type DebugOptions struct {
	Spans bool // 在帧树中记录每个元素的源码位置
}

// Metrics are the vertical font metrics at a given size.
type Metrics struct {
	Ascent  units.Abs
	Descent units.Abs
}

// Typesetter measures text. Implementations must be safe for use by one
// layout at a time and deterministic.
type Typesetter interface {
	Measure(text string, font fonts.Spec, size units.Abs) units.Abs
	Metrics(font fonts.Spec, size units.Abs) Metrics
}

// FixedTypesetter gives every character the same advance, a fraction of
// the font size. It needs no font data.
type FixedTypesetter struct {
	Advance float64 // 0 means 0.5
}

func (f FixedTypesetter) advance(size units.Abs) units.Abs {
	adv := f.Advance
	if adv <= 0 {
		adv = 0.5
	}
	return size.Scale(adv)
}

// Measure implements Typesetter.
func (f FixedTypesetter) Measure(text string, _ fonts.Spec, size units.Abs) units.Abs {
	return units.Abs(utf8.RuneCountInString(text)) * f.advance(size)
}

// Metrics implements Typesetter.
func (f FixedTypesetter) Metrics(_ fonts.Spec, size units.Abs) Metrics {
	return Metrics{Ascent: size.Scale(0.8), Descent: size.Scale(0.2)}
}
