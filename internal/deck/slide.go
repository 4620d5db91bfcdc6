// Package deck models a narrated slide deck and extracts its narration from
// HTML.
package deck

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrIncompleteSlide is returned when a clip is attached to a slide that is
// missing its audio or screenshot.
var ErrIncompleteSlide = errors.New("slide has no audio or screenshot")

const (
	minEstimate    = 5 * time.Second
	perRuneSeconds = 150 * time.Millisecond
)

// Slide is one narrated unit of a deck. It is created with narration only and
// filled in as the pipeline produces artifacts for it.
type Slide struct {
	// Index is the 1-based position among extracted slides. Output names use it.
	Index int
	// Element is the 0-based position of the narration-bearing element in the
	// document, empty ones included. The capturer uses it to pick the slide.
	Element int
	// Selector is the CSS selector whose Element-th match is this slide.
	Selector string

	Narration         string
	EstimatedDuration time.Duration

	AudioPath      string
	ScreenshotPath string
	ClipPath       string

	// Backend names the speech backend that produced AudioPath.
	Backend string

	AudioDegraded      bool
	ScreenshotDegraded bool
	Subtitled          bool
}

// NewSlide returns a slide with its duration estimate filled in.
func NewSlide(index, element int, narration string) *Slide {
	return &Slide{
		Index:             index,
		Element:           element,
		Narration:         narration,
		EstimatedDuration: EstimateDuration(narration),
	}
}

// EstimateDuration guesses how long narration takes to speak. It is only used
// when no audio exists to measure.
func EstimateDuration(narration string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(narration)) * perRuneSeconds
	if d < minEstimate {
		return minEstimate
	}
	return d
}

// SetClip records the composed clip. Both audio and screenshot must be set.
func (s *Slide) SetClip(path string) error {
	if s.AudioPath == "" || s.ScreenshotPath == "" {
		return fmt.Errorf("slide %d: %w", s.Index, ErrIncompleteSlide)
	}
	s.ClipPath = path
	return nil
}

// Name renders the canonical artifact name for this slide, e.g. deck_03.mp3.
func (s *Slide) Name(prefix, ext string) string {
	return ArtifactName(prefix, s.Index, ext)
}

// ArtifactName renders "{prefix}_{index:02d}.{ext}".
func ArtifactName(prefix string, index int, ext string) string {
	return fmt.Sprintf("%s_%02d.%s", prefix, index, ext)
}
