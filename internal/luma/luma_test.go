package luma

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPickColorsImage(t *testing.T) {
	tests := []struct {
		name string
		gray uint8
		want Colors
	}{
		{"white background", 255, OnLight},
		{"black background", 0, OnDark},
		{"at threshold", 160, OnLight},
		{"just below threshold", 159, OnDark},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := solid(200, 100, color.Gray{Y: tt.gray})
			if got := (Analyzer{}).PickColorsImage(img); got != tt.want {
				t.Errorf("PickColorsImage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOnlyBottomStripCounts(t *testing.T) {
	// Dark top, bright bottom 20%.
	img := solid(400, 200, color.Black)
	for y := 160; y < 200; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, color.White)
		}
	}
	if got := (Analyzer{}).PickColorsImage(img); got != OnLight {
		t.Errorf("PickColorsImage() = %+v, want OnLight", got)
	}
}

func TestPickColorsPure(t *testing.T) {
	img := solid(321, 123, color.RGBA{R: 90, G: 200, B: 40, A: 255})
	a := Analyzer{}
	first := a.PickColorsImage(img)
	for i := 0; i < 5; i++ {
		if got := a.PickColorsImage(img); got != first {
			t.Fatalf("run %d = %+v, first = %+v", i, got, first)
		}
	}
}

func TestPickColorsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, solid(100, 100, color.White)); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	if got := (Analyzer{}).PickColors(path); got != OnLight {
		t.Errorf("PickColors() = %+v, want OnLight", got)
	}
}

func TestPickColorsFallback(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{bad, filepath.Join(dir, "missing.png")} {
		if got := (Analyzer{}).PickColors(path); got != OnDark {
			t.Errorf("PickColors(%s) = %+v, want OnDark", path, got)
		}
	}
}

func TestTinyImage(t *testing.T) {
	img := solid(1, 1, color.White)
	if got := (Analyzer{}).PickColorsImage(img); got != OnLight {
		t.Errorf("PickColorsImage() = %+v, want OnLight", got)
	}
}
