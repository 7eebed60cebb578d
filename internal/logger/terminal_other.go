//go:build !linux && !darwin && !windows

package logger

// isTerminal reports false on platforms without a known terminal check
func isTerminal(_ uintptr) bool {
	return false
}
