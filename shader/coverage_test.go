package shader

import (
	"image"
	"math"
	"testing"

	"github.com/gogpu/sketch/brush"
)

func near(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-6 }

func TestCoverage_Rules(t *testing.T) {
	tests := []struct {
		rule Rule
		want float32
	}{
		{RuleMax, 0.5},
		{RuleBuildUp, 0.75},
	}
	for _, tt := range tests {
		c := NewCoverage(tt.rule)
		c.Add(3, 4, 0.5, 0)
		c.Add(3, 4, 0.5, 0)
		if got := c.At(3, 4); !near(got, tt.want) {
			t.Errorf("rule %d: At = %g, want %g", tt.rule, got, tt.want)
		}
	}
}

func TestRuleFor(t *testing.T) {
	tests := []struct {
		kind brush.Kind
		want Rule
	}{
		{brush.KindPencil, RuleMax},
		{brush.KindMarker, RuleMax},
		{brush.KindEraser, RuleMax},
		{brush.KindAirbrush, RuleBuildUp},
		{brush.KindWatercolor, RuleBuildUp},
	}
	for _, tt := range tests {
		if got := RuleFor(tt.kind); got != tt.want {
			t.Errorf("RuleFor(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestCoverage_Sparse(t *testing.T) {
	c := NewCoverage(RuleMax)
	if !c.Empty() {
		t.Fatal("new coverage not empty")
	}
	c.Add(-1, -1, 1, 0)
	c.Add(1000, 5, 0.25, 0)
	c.Add(7, 7, 0, 0) // ignored

	if c.Chunks() != 2 {
		t.Errorf("Chunks() = %d, want 2", c.Chunks())
	}
	if want := image.Rect(-1, -1, 1001, 6); c.Bounds() != want {
		t.Errorf("Bounds() = %v, want %v", c.Bounds(), want)
	}
	if c.At(-1, -1) != 1 || c.At(1000, 5) != 0.25 || c.At(7, 7) != 0 || c.At(-5000, 3) != 0 {
		t.Error("At returned wrong values")
	}
	if c.Bytes() != 2*chunkSize*chunkSize*4 {
		t.Errorf("Bytes() = %d", c.Bytes())
	}
	c.Reset()
	if !c.Empty() || c.Chunks() != 0 {
		t.Error("Reset left data")
	}
}

func TestCoverage_RowAcrossChunks(t *testing.T) {
	c := NewCoverage(RuleMax)
	for x := -70; x < 70; x++ {
		c.Add(x, 2, float32(x+100)/200, 0)
	}
	row := c.Row(2, -80, 80, nil)
	if len(row) != 160 {
		t.Fatalf("len = %d", len(row))
	}
	for i, v := range row {
		x := i - 80
		want := float32(0)
		if x >= -70 && x < 70 {
			want = float32(x+100) / 200
		}
		if !near(v, want) {
			t.Fatalf("x=%d: %g, want %g", x, v, want)
		}
	}
	if other := c.Row(3, -80, 80, row); other[90] != 0 {
		t.Error("reused row buffer was not cleared")
	}
}

func TestCoverage_HueWeighted(t *testing.T) {
	c := NewCoverage(RuleBuildUp)
	c.Add(0, 0, 0.5, 10)
	c.Add(0, 0, 0.5, -10)
	if h := c.HueAt(0, 0); !near(h, 0) {
		t.Errorf("mean hue = %g, want 0", h)
	}
	c.Add(1, 0, 1, 6)
	if h := c.HueAt(1, 0); !near(h, 6) {
		t.Errorf("hue = %g, want 6", h)
	}
	if !c.hasHue(image.Rect(0, 0, 1, 1)) || c.hasHue(image.Rect(500, 500, 501, 501)) {
		t.Error("hasHue mismatch")
	}
}
