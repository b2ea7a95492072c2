// Package units holds the length arithmetic shared by evaluation, layout and
// export. All absolute measurements are fixed-point integers so nested
// containers never accumulate floating point drift.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Unit represents the original unit of a length value as written in source.
type Unit int

const (
	UnitNone Unit = iota // unit-less numbers like factors
	UnitMM               // millimeters
	UnitCM               // centimeters
	UnitIN               // inches
	UnitPT               // points
	UnitEM               // relative to the current font size
)

// Conversion constants between pt and mm.
const (
	PtToMm = 0.352777
	MmToPt = 1.0 / PtToMm
)

// UnitToString returns a short string for a Unit value.
func UnitToString(u Unit) string {
	switch u {
	case UnitMM:
		return "mm"
	case UnitCM:
		return "cm"
	case UnitIN:
		return "in"
	case UnitPT:
		return "pt"
	case UnitEM:
		return "em"
	default:
		return ""
	}
}

// Abs is an absolute length in scaled points (1/65536 pt).
type Abs int64

// One point in scaled points.
const Pt Abs = 1 << 16

// Zero and Infinite are the boundary values of Abs.
const (
	Zero     Abs = 0
	Infinite Abs = math.MaxInt64 / 4
)

// FromPt converts points to Abs, rounding to the nearest scaled point.
func FromPt(pt float64) Abs { return Abs(math.Round(pt * float64(Pt))) }

// FromMm converts millimeters to Abs.
func FromMm(mm float64) Abs { return FromPt(mm * MmToPt) }

// Pt returns the length in points.
func (a Abs) Pt() float64 { return float64(a) / float64(Pt) }

// Mm returns the length in millimeters.
func (a Abs) Mm() float64 { return a.Pt() * PtToMm }

// Scale multiplies the length by f and rounds.
func (a Abs) Scale(f float64) Abs { return Abs(math.Round(float64(a) * f)) }

// Max returns the larger of a and b.
func (a Abs) Max(b Abs) Abs {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func (a Abs) Min(b Abs) Abs {
	if a < b {
		return a
	}
	return b
}

func (a Abs) String() string {
	return strconv.FormatFloat(a.Pt(), 'f', -1, 64) + "pt"
}

// Length preserves a numeric value with its unit.
type Length struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// Pts is a shorthand for a point length.
func Pts(v float64) Length { return Length{Value: v, Unit: UnitPT} }

// Ems is a shorthand for a font-relative length.
func Ems(v float64) Length { return Length{Value: v, Unit: UnitEM} }

func (l Length) IsZero() bool { return l.Value == 0 }

// To converts this length to target unit. Supported targets: UnitMM, UnitPT.
// Em lengths are treated as points; use Resolve when a font size is known.
func (l Length) To(target Unit) float64 {
	var mm float64
	switch l.Unit {
	case UnitMM:
		mm = l.Value
	case UnitCM:
		mm = l.Value * 10
	case UnitIN:
		mm = l.Value * 25.4
	case UnitPT, UnitEM:
		if target == UnitPT {
			return l.Value
		}
		mm = l.Value * PtToMm
	default:
		return l.Value
	}
	if target == UnitPT {
		return mm * MmToPt
	}
	return mm
}

func (l Length) ToMM() float64 { return l.To(UnitMM) }
func (l Length) ToPT() float64 { return l.To(UnitPT) }

// Resolve converts the length to Abs, using em as the size of one em.
func (l Length) Resolve(em Abs) Abs {
	switch l.Unit {
	case UnitEM:
		return em.Scale(l.Value)
	case UnitPT:
		return FromPt(l.Value)
	case UnitNone:
		return FromPt(l.Value)
	default:
		return FromMm(l.ToMM())
	}
}

// Add sums two lengths. Mixed units are folded into points; em parts are
// kept only when both sides are em.
func (l Length) Add(o Length) Length {
	if l.Unit == o.Unit {
		return Length{Value: l.Value + o.Value, Unit: l.Unit}
	}
	if l.IsZero() {
		return o
	}
	if o.IsZero() {
		return l
	}
	return Length{Value: l.ToPT() + o.ToPT(), Unit: UnitPT}
}

// Mul scales a length by a factor.
func (l Length) Mul(f float64) Length { return Length{Value: l.Value * f, Unit: l.Unit} }

func (l Length) String() string {
	return strconv.FormatFloat(l.Value, 'f', -1, 64) + UnitToString(l.Unit)
}

// ParseRawLengthStr parses a length string preserving its unit.
func ParseRawLengthStr(value string) Length {
	v := strings.TrimSpace(value)
	if v == "" {
		return Length{Value: 0, Unit: UnitNone}
	}
	lower := strings.ToLower(v)
	unit := UnitNone
	num := lower
	for _, suf := range []struct {
		s string
		u Unit
	}{{"mm", UnitMM}, {"cm", UnitCM}, {"in", UnitIN}, {"pt", UnitPT}, {"em", UnitEM}} {
		if strings.HasSuffix(lower, suf.s) {
			unit = suf.u
			num = strings.TrimSpace(strings.TrimSuffix(lower, suf.s))
			break
		}
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Length{Value: 0, Unit: UnitNone}
	}
	return Length{Value: f, Unit: unit}
}

// ParseLength is ParseRawLengthStr with an error for malformed or unit-less input.
func ParseLength(value string) (Length, error) {
	l := ParseRawLengthStr(value)
	if l.Unit == UnitNone {
		return Length{}, fmt.Errorf("invalid length %q", value)
	}
	return l, nil
}

// LineHeightKind distinguishes factor-based vs absolute line-height specification.
type LineHeightKind int

const (
	LineHeightFactor LineHeightKind = iota
	LineHeightAbsolute
)

// LineHeightSpec preserves original author intent: either a factor (e.g., 1.2x) or an absolute length (e.g., 18pt).
type LineHeightSpec struct {
	Kind   LineHeightKind `json:"kind"`
	Factor float64        `json:"factor,omitempty"`
	Len    Length         `json:"len,omitempty"`
}

// Resolve computes the absolute line height for the given font size.
func (s LineHeightSpec) Resolve(fontSize Abs) Abs {
	switch s.Kind {
	case LineHeightFactor:
		if s.Factor <= 0 {
			return fontSize.Scale(1.4)
		}
		return fontSize.Scale(s.Factor)
	case LineHeightAbsolute:
		return s.Len.Resolve(fontSize)
	default:
		return fontSize.Scale(1.4)
	}
}

// Paper sizes in millimeters.
var paperPresets = map[string][2]float64{
	"A3":     {297, 420},
	"A4":     {210, 297},
	"A5":     {148, 210},
	"A6":     {105, 148},
	"LETTER": {215.9, 279.4},
	"LEGAL":  {215.9, 355.6},
}

// Paper returns the width and height of a named paper size.
func Paper(name string) (Abs, Abs, error) {
	base, ok := paperPresets[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, 0, fmt.Errorf("unsupported paper size: %s", name)
	}
	return FromMm(base[0]), FromMm(base[1]), nil
}

// Rel is a length relative to its container: Len + Ratio * base.
type Rel struct {
	Len   Length  `json:"len"`
	Ratio float64 `json:"ratio"`
}

// IsZero reports whether both parts are zero.
func (r Rel) IsZero() bool { return r.Len.IsZero() && r.Ratio == 0 }

// Resolve computes the absolute size against base, with em the current font size.
func (r Rel) Resolve(base, em Abs) Abs {
	return r.Len.Resolve(em) + base.Scale(r.Ratio)
}
