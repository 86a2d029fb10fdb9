package verify_test

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/export"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/template"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/verify"
)

func sum1(b []byte) []byte { d := sha1.Sum(b); return d[:] } //nolint:gosec

type logFixture struct {
	root *measurement.Namespace
	sim  *tpm.Simulator
	// file digests of the imaid entries recorded for namespace 3
	ns3 [][]byte
}

func buildLog(t *testing.T) logFixture {
	t.Helper()
	sim, err := tpm.NewSimulator(tpm.SHA1, tpm.SHA256)
	require.NoError(t, err)
	eng := measurement.NewEngine(measurement.Config{}, tpm.NewExtender(sim, zap.NewNop()), nil, zap.NewNop())
	ctx := context.Background()
	f := logFixture{sim: sim}

	add := func(tmpl, name string, ns int, violation bool) {
		desc, _ := template.Lookup(tmpl)
		ev := template.Event{FileDigest: sum1([]byte(name)), Algorithm: tpm.SHA1, Name: name, NamespaceID: ns}
		build := measurement.NewEntry
		if violation {
			build = measurement.NewViolationEntry
		}
		e, err := build(verify.DefaultPCR, desc, ev, eng.Algorithms())
		require.NoError(t, err)
		_, err = eng.Append(ctx, measurement.RootID, &measurement.Request{Entry: e, Violation: violation})
		require.NoError(t, err)
		if tmpl == verify.TemplateNamespaceID && ns == 3 {
			f.ns3 = append(f.ns3, ev.FileDigest)
		}
	}
	add("ima-ng", "/sbin/init", 0, false)
	add(verify.TemplateNamespaceID, "/usr/bin/a", 3, false)
	add("ima", "/lib/ld.so", 0, false)
	add("ima-ng", "/etc/shadow", 0, true)
	add(verify.TemplateNamespaceID, "/usr/bin/b", 4, false)
	add(verify.TemplateNamespaceID, "/usr/bin/c", 3, false)

	f.root, _ = eng.Namespace(measurement.RootID)
	return f
}

func TestReplay_MatchesSimulatedRegister(t *testing.T) {
	f := buildLog(t)
	want, err := f.sim.Read(verify.DefaultPCR, tpm.SHA1)
	require.NoError(t, err)

	var ascii, bin bytes.Buffer
	require.NoError(t, export.WriteASCII(&ascii, f.root.Entries()))
	_, err = export.WriteBinary(&bin, f.root.Entries())
	require.NoError(t, err)

	opts := verify.Options{Expected: want, Namespace: 3}
	for name, replay := range map[string]func() (verify.Report, error){
		"ascii": func() (verify.Report, error) {
			return verify.ReplayASCII(&ascii, opts)
		},
		"binary": func() (verify.Report, error) {
			return verify.ReplayBinary(&bin, opts)
		},
	} {
		t.Run(name, func(t *testing.T) {
			rep, err := replay()
			require.NoError(t, err)
			assert.Equal(t, want, rep.Aggregate)
			assert.True(t, rep.Matched())
			assert.Equal(t, 6, rep.MatchedAt)
			assert.Equal(t, 6, rep.Entries)

			vpcr := make([]byte, tpm.ExportSize)
			for _, d := range f.ns3 {
				vpcr = sum1(append(vpcr, d...))
			}
			assert.Equal(t, vpcr, rep.NamespaceAggregate)
			assert.Equal(t, 2, rep.NamespaceEntries)
		})
	}
}

func TestReplay_Mismatch(t *testing.T) {
	f := buildLog(t)
	var ascii bytes.Buffer
	require.NoError(t, export.WriteASCII(&ascii, f.root.Entries()))

	rep, err := verify.ReplayASCII(&ascii, verify.Options{Expected: make([]byte, tpm.ExportSize)})
	require.NoError(t, err)
	assert.False(t, rep.Matched())
	assert.Nil(t, rep.NamespaceAggregate)
}

func TestReplay_OtherPCRIgnored(t *testing.T) {
	log := "11 " + strings.Repeat("ab", 20) + " ima-ng sha1:00 /x\n"
	rep, err := verify.ReplayASCII(strings.NewReader(log), verify.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Entries)
	assert.Equal(t, make([]byte, tpm.ExportSize), rep.Aggregate)
}

func TestParseASCII_Malformed(t *testing.T) {
	_, err := verify.ReplayASCII(strings.NewReader("10 nothex ima-ng x\n"), verify.Options{})
	assert.Error(t, err)
	_, err = verify.ReplayASCII(strings.NewReader("10 short\n"), verify.Options{})
	assert.Error(t, err)
}
