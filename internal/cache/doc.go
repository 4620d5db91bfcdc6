// Package cache keeps synthesized narration audio across runs. A small
// in-memory tier sits in front of a zstd-compressed disk tier; entries are
// keyed by a content hash and remember which backend produced them.
package cache
