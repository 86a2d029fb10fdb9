package measurement

import (
	"math"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

// HeaderSize is the fixed header of a warm-restart buffer:
// version u16, reserved u16, entry count u32, buffer size u64, count u64.
const HeaderSize = 2 + 2 + 4 + 8 + 8

// SizeOf returns the exact size of e as a binary exported record.
func SizeOf(e *Entry) uint64 {
	n := uint64(4 + tpm.ExportSize + 4 + len(e.Name()))
	if !e.Template.Legacy() {
		n += 4
	}
	return addSat(n, uint64(len(e.Payload)))
}

// addSat returns a+b, or math.MaxUint64 when the sum would wrap.
func addSat(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
