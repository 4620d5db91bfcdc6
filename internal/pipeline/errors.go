package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInputMissing means the HTML file or the audio prefix is missing.
	ErrInputMissing = errors.New("input missing")
	// ErrNoSlides means no narration was extracted or no clip survived.
	ErrNoSlides = errors.New("no slides produced")
	// ErrAborted means a slide failed under the abort policy.
	ErrAborted = errors.New("aborted after slide failure")
	// ErrConcatenation means the final video could not be assembled.
	ErrConcatenation = errors.New("concatenation failed")
)

// Stage names the step a slide failed in.
type Stage string

const (
	StageAudio      Stage = "audio"
	StageScreenshot Stage = "screenshot"
	StageCompose    Stage = "compose"
)

// SlideError records why one slide produced no clip.
type SlideError struct {
	Index int
	Stage Stage
	Err   error
}

func (e *SlideError) Error() string {
	return fmt.Sprintf("slide %d %s: %v", e.Index, e.Stage, e.Err)
}

func (e *SlideError) Unwrap() error { return e.Err }
