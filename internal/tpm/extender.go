package tpm

import (
	"errors"

	"go.uber.org/zap"
)

// Extender extends a register with an admitted entry's digests. A nil device
// turns every Extend into a successful no-op.
type Extender struct {
	dev    Device
	banks  []Algorithm
	poison map[Algorithm][]byte
	logger *zap.Logger
}

// NewExtender creates an Extender for dev, which may be nil. The poison
// digests for every bank are prepared up front so a violation never has to
// allocate on the extend path.
func NewExtender(dev Device, logger *zap.Logger) *Extender {
	x := &Extender{dev: dev, logger: logger}
	if dev == nil {
		return x
	}
	x.banks = dev.Banks()
	x.poison = make(map[Algorithm][]byte, len(x.banks))
	for _, a := range x.banks {
		x.poison[a] = fill(0xff, a.Size())
	}
	return x
}

// Enabled reports whether a device is attached.
func (x *Extender) Enabled() bool { return x.dev != nil }

// Banks returns the algorithms of the attached device.
func (x *Extender) Banks() []Algorithm {
	out := make([]Algorithm, len(x.banks))
	copy(out, x.banks)
	return out
}

// Device returns the attached device, or nil.
func (x *Extender) Device() Device { return x.dev }

// Extend folds digests into register pcr for every bank. When violation is
// set the poison pattern is used instead and digests is ignored. Device
// failures are returned as *HardwareError.
func (x *Extender) Extend(pcr int, digests DigestSet, violation bool) error {
	if x.dev == nil {
		return nil
	}

	args := make([]Digest, 0, len(x.banks))
	for _, a := range x.banks {
		var sum []byte
		switch {
		case violation:
			sum = x.poison[a]
		case digests.Get(a) != nil:
			sum = digests.Get(a)
		default:
			// unmapped bank: padded sha1
			sum = fit(digests.Get(SHA1), a.Size())
		}
		args = append(args, Digest{Alg: a, Sum: sum})
	}

	if err := x.dev.Extend(pcr, args); err != nil {
		var hw *HardwareError
		if !errors.As(err, &hw) {
			hw = &HardwareError{Code: RCFail, PCR: pcr, Err: err}
		}
		x.logger.Error("error communicating to trust-anchor device",
			zap.Int("pcr", pcr),
			zap.Int("result", hw.Code),
		)
		return hw
	}
	return nil
}
