package speech

import "time"

// ReasonCode classifies a failed synthesis.
type ReasonCode string

const (
	ReasonTimeout    ReasonCode = "TIMEOUT"
	ReasonError      ReasonCode = "ERROR"
	ReasonUndersized ReasonCode = "UNDERSIZED"
	ReasonCanceled   ReasonCode = "CANCELED"
	ReasonExhausted  ReasonCode = "EXHAUSTED"
)

// Result is the outcome of synthesizing one text. It is either a success
// carrying the audio location, or a failure carrying a reason. Build it with
// Success or Failure.
type Result struct {
	ok bool

	// Success fields.
	Path   string
	Bytes  int64
	Reused bool
	Cached bool

	// Backend that produced the audio, or the one that failed.
	Backend string

	// Failure fields.
	Reason ReasonCode
	Err    error

	// Attempts lists rejected attempts in the order they were made.
	Attempts []Attempt
}

// Attempt records one rejected backend call.
type Attempt struct {
	Backend string
	Reason  ReasonCode
	Err     error
	Elapsed time.Duration
}

// Success builds an accepted result.
func Success(backend, path string, size int64) Result {
	return Result{ok: true, Backend: backend, Path: path, Bytes: size}
}

// Failure builds a rejected result.
func Failure(backend string, reason ReasonCode, err error) Result {
	return Result{Backend: backend, Reason: reason, Err: err}
}

// OK reports whether the result carries audio.
func (r Result) OK() bool { return r.ok }
