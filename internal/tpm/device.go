package tpm

import "fmt"

// Response codes reported by the simulator. The values follow the TPM 2.0
// format-one response codes so logs read the same as with a real chip.
const (
	RCHash  = 0x083
	RCValue = 0x084
	RCFail  = 0x101
)

// Device is a write-once-per-boot register device.
type Device interface {
	// Banks lists the algorithms the device extends, in a stable order.
	Banks() []Algorithm

	// Extend folds one digest per bank into register pcr.
	Extend(pcr int, digests []Digest) error
}

// Reader is implemented by devices whose register values can be read back.
type Reader interface {
	Read(pcr int, alg Algorithm) ([]byte, error)
}

// HardwareError reports a failed device operation.
type HardwareError struct {
	Code int
	PCR  int
	Err  error
}

// Error implements the error interface.
func (e *HardwareError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tpm: extend pcr %d failed (rc=%d): %v", e.PCR, e.Code, e.Err)
	}
	return fmt.Sprintf("tpm: extend pcr %d failed (rc=%d)", e.PCR, e.Code)
}

// Unwrap returns the underlying device error, if any.
func (e *HardwareError) Unwrap() error { return e.Err }
