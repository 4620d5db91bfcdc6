//go:build windows

package runstore

// Without a cheap liveness probe every lock is treated as held.
func processAlive(int) bool { return true }
