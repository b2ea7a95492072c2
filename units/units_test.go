package units

import (
	"math"
	"testing"
)

// TestPtMmRoundTrip checks pt<->mm conversion precision.
func TestPtMmRoundTrip(t *testing.T) {
	samples := []float64{0, 0.001, 1, 12, 14.4, 72, 96, 144, 1000}
	for _, pt := range samples {
		mm := pt * PtToMm
		back := mm * MmToPt
		if diff := math.Abs(back - pt); diff > 1e-9 {
			t.Fatalf("pt->mm->pt drift: in=%gpt mm=%g back=%g diff=%g", pt, mm, back, diff)
		}
	}
}

func TestLengthToConversions(t *testing.T) {
	in := Length{Value: 1, Unit: UnitIN}
	if got := in.ToMM(); math.Abs(got-25.4) > 1e-9 {
		t.Fatalf("1in to mm: want 25.4, got %g", got)
	}
	cm := Length{Value: 2.54, Unit: UnitCM}
	if got := cm.ToMM(); math.Abs(got-25.4) > 1e-9 {
		t.Fatalf("2.54cm to mm: want 25.4, got %g", got)
	}
	pt := Length{Value: 12, Unit: UnitPT}
	if got := pt.ToMM(); math.Abs(got-12*PtToMm) > 1e-9 {
		t.Fatalf("12pt to mm: want %g, got %g", 12*PtToMm, got)
	}
	mm := Length{Value: 10, Unit: UnitMM}
	if got := mm.ToPT(); math.Abs(got-10*MmToPt) > 1e-9 {
		t.Fatalf("10mm to pt: want %g, got %g", 10*MmToPt, got)
	}
}

func TestAbsIsExact(t *testing.T) {
	var sum Abs
	for i := 0; i < 1000; i++ {
		sum += FromPt(0.5)
	}
	if sum != FromPt(500) {
		t.Fatalf("fixed-point sum drifted: %v", sum)
	}
	if got := Ems(1.5).Resolve(FromPt(10)); got != FromPt(15) {
		t.Fatalf("1.5em at 10pt: got %v", got)
	}
}

func TestLineHeightResolve(t *testing.T) {
	size := FromPt(12)
	factor := LineHeightSpec{Kind: LineHeightFactor, Factor: 1.5}
	if got := factor.Resolve(size); got != FromPt(18) {
		t.Fatalf("1.5x at 12pt: got %v", got)
	}
	abs := LineHeightSpec{Kind: LineHeightAbsolute, Len: Pts(20)}
	if got := abs.Resolve(size); got != FromPt(20) {
		t.Fatalf("20pt line height: got %v", got)
	}
	rel := LineHeightSpec{Kind: LineHeightAbsolute, Len: Ems(2)}
	if got := rel.Resolve(size); got != FromPt(24) {
		t.Fatalf("2em line height: got %v", got)
	}
}

func TestParseRawLengthStr(t *testing.T) {
	cases := map[string]Length{
		"12pt":  {12, UnitPT},
		"2.5mm": {2.5, UnitMM},
		"1in":   {1, UnitIN},
		"1.2em": {1.2, UnitEM},
		"abc":   {0, UnitNone},
	}
	for in, want := range cases {
		if got := ParseRawLengthStr(in); got != want {
			t.Fatalf("%s: got %+v want %+v", in, got, want)
		}
	}
	if _, err := ParseLength("12"); err == nil {
		t.Fatalf("unit-less length should be rejected")
	}
}

func TestPaper(t *testing.T) {
	w, h, err := Paper("a4")
	if err != nil {
		t.Fatalf("a4: %v", err)
	}
	if math.Abs(w.Mm()-210) > 1e-3 || math.Abs(h.Mm()-297) > 1e-3 {
		t.Fatalf("a4 size: %v x %v", w.Mm(), h.Mm())
	}
	if _, _, err := Paper("b99"); err == nil {
		t.Fatalf("unknown paper should fail")
	}
}
