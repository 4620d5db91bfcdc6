// Package speech turns narration text into an audio file by trying an
// ordered list of synthesis backends until one produces acceptable output.
package speech

import (
	"context"
	"sort"
	"time"
)

// DefaultTimeout bounds a backend call when its descriptor sets none.
const DefaultTimeout = 30 * time.Second

// Backend synthesizes text into an audio file at outputPath. Implementations
// must honor ctx cancellation.
type Backend interface {
	Synthesize(ctx context.Context, text, outputPath string) error
}

// Validator is implemented by backends that can check their prerequisites
// without synthesizing anything.
type Validator interface {
	Validate(ctx context.Context) error
}

// EngineDescriptor binds a backend to its name, priority and call timeout.
// Lower priority values are tried first.
type EngineDescriptor struct {
	Name     string
	Priority int
	Timeout  time.Duration
	Backend  Backend
}

// SortEngines orders descriptors by priority, keeping configuration order
// for ties.
func SortEngines(engines []EngineDescriptor) []EngineDescriptor {
	out := make([]EngineDescriptor, len(engines))
	copy(out, engines)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}
