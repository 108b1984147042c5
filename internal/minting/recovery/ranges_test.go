package recovery

import (
	"math"
	"testing"
)

func TestRange_Split(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		size uint64
		want []Range
	}{
		{"fits", Range{0, 999}, 1000, []Range{{0, 999}}},
		{"exact chunks", Range{1, 3000}, 1000, []Range{{1, 1000}, {1001, 2000}, {2001, 3000}}},
		{"tail", Range{10, 2500}, 1000, []Range{{10, 1009}, {1010, 2009}, {2010, 2500}}},
		{"single block", Range{7, 7}, 1000, []Range{{7, 7}}},
		{"zero size", Range{1, 50}, 0, []Range{{1, 50}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.r.Split(tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRange_SplitAtMaxUint(t *testing.T) {
	const top = ^uint64(0)
	got := Range{Start: top - 4, End: top}.Split(2)
	if len(got) != 3 || got[2].End != top {
		t.Fatalf("unexpected chunks: %v", got)
	}
}

func TestRangeSize_FullRange(t *testing.T) {
	r := Range{Start: 0, End: math.MaxUint64}
	if r.Size() != math.MaxUint64 {
		t.Errorf("Size() = %d, want MaxUint64", r.Size())
	}
	if got := (Range{Start: 7, End: 7}).Size(); got != 1 {
		t.Errorf("single block Size() = %d", got)
	}
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("100-200")
	if err != nil {
		t.Fatal(err)
	}
	if r.Start != 100 || r.End != 200 || r.Size() != 101 {
		t.Errorf("unexpected range %v", r)
	}
	if r.String() != "100-200" {
		t.Errorf("String() = %s", r.String())
	}

	for _, bad := range []string{"", "abc", "200-100"} {
		if _, err := ParseRange(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestSub(t *testing.T) {
	if sub(5, 10) != 0 || sub(10, 10) != 0 || sub(10, 3) != 7 {
		t.Error("saturating subtraction is wrong")
	}
}
