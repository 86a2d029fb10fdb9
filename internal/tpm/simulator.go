package tpm

import (
	"fmt"
	"sync"
)

// NumPCRs is the number of registers per bank on the simulated device.
const NumPCRs = 24

// Simulator is an in-memory Device. It is safe for concurrent use; extends
// from different callers are applied one at a time, which is the only
// ordering a physical chip offers as well.
type Simulator struct {
	mu       sync.Mutex
	banks    []Algorithm
	pcrs     map[Algorithm][][]byte
	extends  int
	failNext int
}

// NewSimulator creates a Simulator with all registers reset to zero.
// At least one bank is required.
func NewSimulator(banks ...Algorithm) (*Simulator, error) {
	if len(banks) == 0 {
		return nil, fmt.Errorf("tpm: simulator needs at least one bank")
	}
	s := &Simulator{pcrs: make(map[Algorithm][][]byte, len(banks))}
	for _, a := range banks {
		if !a.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrNoBank, a)
		}
		if _, dup := s.pcrs[a]; dup {
			continue
		}
		regs := make([][]byte, NumPCRs)
		for i := range regs {
			regs[i] = make([]byte, a.Size())
		}
		s.pcrs[a] = regs
		s.banks = append(s.banks, a)
	}
	return s, nil
}

// Banks implements Device.
func (s *Simulator) Banks() []Algorithm {
	out := make([]Algorithm, len(s.banks))
	copy(out, s.banks)
	return out
}

// Extend implements Device. Every bank must be covered by digests.
func (s *Simulator) Extend(pcr int, digests []Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != 0 {
		code := s.failNext
		s.failNext = 0
		return &HardwareError{Code: code, PCR: pcr}
	}
	if pcr < 0 || pcr >= NumPCRs {
		return &HardwareError{Code: RCValue, PCR: pcr}
	}

	next := make(map[Algorithm][]byte, len(s.banks))
	for _, a := range s.banks {
		sum := DigestSet(digests).Get(a)
		if len(sum) != a.Size() {
			return &HardwareError{Code: RCHash, PCR: pcr, Err: fmt.Errorf("missing %s digest", a)}
		}
		h := a.New()
		h.Write(s.pcrs[a][pcr])
		h.Write(sum)
		next[a] = h.Sum(nil)
	}
	for a, v := range next {
		s.pcrs[a][pcr] = v
	}
	s.extends++
	return nil
}

// Read implements Reader.
func (s *Simulator) Read(pcr int, alg Algorithm) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regs, ok := s.pcrs[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoBank, alg)
	}
	if pcr < 0 || pcr >= NumPCRs {
		return nil, fmt.Errorf("tpm: pcr %d out of range", pcr)
	}
	out := make([]byte, len(regs[pcr]))
	copy(out, regs[pcr])
	return out, nil
}

// ExtendCount returns how many Extend calls succeeded.
func (s *Simulator) ExtendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extends
}

// FailNext makes the next Extend call fail with response code rc.
func (s *Simulator) FailNext(rc int) {
	s.mu.Lock()
	s.failNext = rc
	s.mu.Unlock()
}
