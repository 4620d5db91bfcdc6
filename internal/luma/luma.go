// Package luma picks subtitle colors that stay readable over a slide by
// measuring the brightness of the strip where subtitles are drawn.
package luma

import (
	"image"
	"image/color"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"os"
)

const (
	// DefaultThreshold splits bright from dark backgrounds on a 0-255 scale.
	DefaultThreshold = 160
	// DefaultStripRatio is the bottom fraction of the image that is sampled.
	DefaultStripRatio = 0.15
	// DefaultStep samples every Nth pixel in each direction.
	DefaultStep = 20
)

// Colors are ffmpeg color names for subtitle text and its outline.
type Colors struct {
	Foreground string
	Outline    string
}

var (
	// OnDark is used over dark backgrounds and whenever analysis fails.
	OnDark = Colors{Foreground: "white", Outline: "black"}
	// OnLight is used over bright backgrounds.
	OnLight = Colors{Foreground: "black", Outline: "white"}
)

// Analyzer measures background brightness. The zero value uses defaults.
type Analyzer struct {
	Threshold  float64
	StripRatio float64
	Step       int
}

// PickColors decodes the image at path and picks colors for it. Any error
// yields OnDark.
func (a Analyzer) PickColors(path string) Colors {
	f, err := os.Open(path)
	if err != nil {
		return OnDark
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return OnDark
	}
	return a.PickColorsImage(img)
}

// PickColorsImage picks colors for an already decoded image.
func (a Analyzer) PickColorsImage(img image.Image) Colors {
	if a.Brightness(img) >= a.threshold() {
		return OnLight
	}
	return OnDark
}

// Brightness returns the mean luma of the sampled bottom strip.
func (a Analyzer) Brightness(img image.Image) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}

	strip := int(float64(b.Dy()) * a.stripRatio())
	if strip < 1 {
		strip = 1
	}
	step := a.step()

	var sum float64
	var n int
	for y := b.Max.Y - strip; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			sum += float64(g.Y)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (a Analyzer) threshold() float64 {
	if a.Threshold <= 0 {
		return DefaultThreshold
	}
	return a.Threshold
}

func (a Analyzer) stripRatio() float64 {
	if a.StripRatio <= 0 || a.StripRatio > 1 {
		return DefaultStripRatio
	}
	return a.StripRatio
}

func (a Analyzer) step() int {
	if a.Step <= 0 {
		return DefaultStep
	}
	return a.Step
}
