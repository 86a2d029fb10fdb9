package tpm_test

import (
	"bytes"
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

func TestSimulator_ExtendChainsValue(t *testing.T) {
	sim, err := tpm.NewSimulator(tpm.SHA1, tpm.SHA256)
	require.NoError(t, err)

	digests, err := tpm.Compute([]tpm.Algorithm{tpm.SHA1, tpm.SHA256}, []byte("boot_aggregate"))
	require.NoError(t, err)
	require.NoError(t, sim.Extend(10, digests))

	want1 := sha1.Sum(append(make([]byte, sha1.Size), digests.Get(tpm.SHA1)...)) //nolint:gosec
	got1, err := sim.Read(10, tpm.SHA1)
	require.NoError(t, err)
	assert.Equal(t, want1[:], got1)

	want256 := sha256.Sum256(append(make([]byte, sha256.Size), digests.Get(tpm.SHA256)...))
	got256, err := sim.Read(10, tpm.SHA256)
	require.NoError(t, err)
	assert.Equal(t, want256[:], got256)

	other, err := sim.Read(11, tpm.SHA1)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(other, make([]byte, sha1.Size)), "untouched register must stay zero")
	assert.Equal(t, 1, sim.ExtendCount())
}

func TestSimulator_FailNext(t *testing.T) {
	sim, err := tpm.NewSimulator(tpm.SHA1)
	require.NoError(t, err)

	sim.FailNext(tpm.RCFail)
	digests := tpm.Zero([]tpm.Algorithm{tpm.SHA1})

	err = sim.Extend(10, digests)
	var hw *tpm.HardwareError
	require.ErrorAs(t, err, &hw)
	assert.Equal(t, tpm.RCFail, hw.Code)

	// the fault is one-shot
	require.NoError(t, sim.Extend(10, digests))
	assert.Equal(t, 1, sim.ExtendCount())
}

func TestSimulator_RejectsBadInput(t *testing.T) {
	sim, err := tpm.NewSimulator(tpm.SHA1, tpm.SHA384)
	require.NoError(t, err)

	var hw *tpm.HardwareError
	err = sim.Extend(tpm.NumPCRs, tpm.Zero(sim.Banks()))
	require.ErrorAs(t, err, &hw)
	assert.Equal(t, tpm.RCValue, hw.Code)

	err = sim.Extend(10, tpm.Zero([]tpm.Algorithm{tpm.SHA1}))
	require.ErrorAs(t, err, &hw)
	assert.Equal(t, tpm.RCHash, hw.Code)

	_, err = tpm.NewSimulator()
	assert.Error(t, err)
	_, err = tpm.NewSimulator("md4")
	assert.ErrorIs(t, err, tpm.ErrNoBank)
}

func TestParseAlgorithm(t *testing.T) {
	a, err := tpm.ParseAlgorithm(" SHA3-256 ")
	require.NoError(t, err)
	assert.Equal(t, tpm.SHA3256, a)
	assert.Equal(t, 32, a.Size())

	_, err = tpm.ParseAlgorithm("crc32")
	assert.ErrorIs(t, err, tpm.ErrNoBank)
}
