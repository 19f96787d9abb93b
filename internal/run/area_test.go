package run

import (
	"math"
	"testing"
)

func TestCapturedAreaDegenerate(t *testing.T) {
	if a := CapturedAreaM2(nil); a != 0 {
		t.Fatalf("expected 0 for empty track, got %v", a)
	}
	track := []LocationPoint{fix(0, 0, 5), fix(0, 0.001, 5)}
	if a := CapturedAreaM2(track); a != 0 {
		t.Fatalf("expected 0 for two points, got %v", a)
	}
}

func TestCapturedAreaColinear(t *testing.T) {
	// three points on one meridian: zero-width box
	track := []LocationPoint{fix(0, 0, 5), fix(0.0005, 0, 5), fix(0.001, 0, 5)}
	if a := CapturedAreaM2(track); a != 0 {
		t.Fatalf("expected 0 for colinear track, got %v", a)
	}
}

func TestCapturedAreaBoundingBox(t *testing.T) {
	// 0.001 x 0.001 degree box at the equator: ~111.32m per side
	track := []LocationPoint{fix(0, 0, 5), fix(0.001, 0.001, 5), fix(0.0005, 0.0002, 5)}
	a := CapturedAreaM2(track)
	want := 111.32 * 111.32 * math.Cos(0.0005*math.Pi/180)
	if math.Abs(a-want) > 1 {
		t.Fatalf("expected ~%v, got %v", want, a)
	}
	if a <= 0 {
		t.Fatalf("expected positive area")
	}
}
