package lock

import (
	"fmt"
	"strings"
)

// ============================================================================
// Lock Modes
// ============================================================================

// Mode is a lock mode in the multi-granularity hierarchy.
//
// Intent modes (IS, IX) announce that a stronger mode will be taken on a
// descendant resource. Shared (S) and exclusive (X) are the strong modes.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeIS
	ModeIX
	ModeS
	ModeX

	// modeCount includes ModeNone at position 0.
	modeCount
)

func modeMask(m Mode) uint32 {
	return 1 << m
}

// conflictTable maps each mode to the mask of modes it conflicts with.
var conflictTable = [modeCount]uint32{
	ModeNone: 0,
	ModeIS:   modeMask(ModeX),
	ModeIX:   modeMask(ModeS) | modeMask(ModeX),
	ModeS:    modeMask(ModeIX) | modeMask(ModeX),
	ModeX:    modeMask(ModeIS) | modeMask(ModeIX) | modeMask(ModeS) | modeMask(ModeX),
}

// String returns the short name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "NONE"
	case ModeIS:
		return "IS"
	case ModeIX:
		return "IX"
	case ModeS:
		return "S"
	case ModeX:
		return "X"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode parses a mode name (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE", "":
		return ModeNone, nil
	case "IS":
		return ModeIS, nil
	case "IX":
		return ModeIX, nil
	case "S":
		return ModeS, nil
	case "X":
		return ModeX, nil
	default:
		return ModeNone, fmt.Errorf("invalid lock mode: %q (valid: IS, IX, S, X)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Conflicts reports whether mode conflicts with any mode in the granted mask.
func Conflicts(mode Mode, grantedMask uint32) bool {
	return conflictTable[mode]&grantedMask != 0
}

// Compatible reports whether two modes may be granted together on one resource.
func Compatible(a, b Mode) bool {
	return conflictTable[a]&modeMask(b) == 0
}

// IsModeCovered reports whether holding covering makes a request for mode
// redundant, i.e. everything mode conflicts with, covering already conflicts with.
func IsModeCovered(mode, covering Mode) bool {
	return conflictTable[covering]|conflictTable[mode] == conflictTable[covering]
}

// IsSharedMode reports whether the mode is IS or S.
func IsSharedMode(m Mode) bool {
	return m == ModeIS || m == ModeS
}

// IntentMode projects a mode onto its intent counterpart (S -> IS, X -> IX).
func IntentMode(m Mode) Mode {
	switch m {
	case ModeS:
		return ModeIS
	case ModeX:
		return ModeIX
	default:
		return m
	}
}

// Supremum returns the weakest mode covering both a and b.
func Supremum(a, b Mode) Mode {
	if IsModeCovered(b, a) {
		return a
	}
	if IsModeCovered(a, b) {
		return b
	}
	// Only IX and S are incomparable; both are covered by X.
	return ModeX
}
