package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/verify"
)

var (
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed, color.Bold)
	cyan  = color.New(color.FgCyan)
)

var (
	verifyFile     string
	verifyBinary   bool
	verifyPCR      int
	verifyExpected string
	verifyVNS      int
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay a measurement list against a register value",
	Long: `verify replays the sha1 template digests of a measurement list and
reports whether, and after how many entries, the running aggregate equals
the expected register value.

The list is read from --file, or downloaded from the daemon. The expected
value is --expected, or the daemon's sha1 bank of --pcr.`,
	Example: `  imactl verify --file ascii_runtime_measurements --expected 9f1c...
  imactl verify --binary --ns 3 --vns 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var list io.Reader
		if verifyFile != "" {
			f, err := os.Open(verifyFile)
			if err != nil {
				return err
			}
			defer f.Close()
			list = f
		} else {
			var b []byte
			if verifyBinary {
				b, err = c.BinaryMeasurements(ctx, nsID)
			} else {
				b, err = c.ASCIIMeasurements(ctx, nsID)
			}
			if err != nil {
				return fmt.Errorf("download measurements: %w", err)
			}
			list = bytes.NewReader(b)
		}

		var expected []byte
		if verifyExpected != "" {
			if expected, err = hex.DecodeString(verifyExpected); err != nil {
				return fmt.Errorf("--expected: %w", err)
			}
		} else {
			banks, err := c.PCR(ctx, verifyPCR)
			if err != nil {
				return fmt.Errorf("read pcr %d: %w", verifyPCR, err)
			}
			if expected, err = hex.DecodeString(banks["sha1"]); err != nil || len(expected) == 0 {
				return fmt.Errorf("daemon has no sha1 bank for pcr %d", verifyPCR)
			}
		}

		replay := verify.ReplayASCII
		if verifyBinary {
			replay = verify.ReplayBinary
		}
		rep, err := replay(list, verify.Options{PCR: verifyPCR, Expected: expected, Namespace: verifyVNS})
		if err != nil {
			return err
		}
		return report(os.Stdout, rep, expected)
	},
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyFile, "file", "f", "", "read the measurement list from a file")
	verifyCmd.Flags().BoolVar(&verifyBinary, "binary", false, "the list is in binary format")
	verifyCmd.Flags().IntVar(&verifyPCR, "pcr", verify.DefaultPCR, "register to replay")
	verifyCmd.Flags().StringVar(&verifyExpected, "expected", "", "expected sha1 register value in hex")
	verifyCmd.Flags().IntVar(&verifyVNS, "vns", 0, "also compute the virtual register of this namespace id")
}

func report(w io.Writer, rep verify.Report, expected []byte) error {
	fmt.Fprintf(w, "entries   %d\n", rep.Entries)
	fmt.Fprintf(w, "aggregate %x\n", rep.Aggregate)
	fmt.Fprintf(w, "expected  %x\n", expected)
	if rep.Namespace != 0 {
		cyan.Fprintf(w, "ns %d vPCR %x over %d entries\n", rep.Namespace, rep.NamespaceAggregate, rep.NamespaceEntries)
	}
	if !rep.Matched() {
		red.Fprintf(w, "✗ aggregate never matched pcr %d\n", verifyPCR)
		return fmt.Errorf("measurement list does not match pcr %d", verifyPCR)
	}
	if rep.MatchedAt < rep.Entries {
		green.Fprintf(w, "✓ matched after %d of %d entries", rep.MatchedAt, rep.Entries)
		fmt.Fprintf(w, " (%d appended since the register was read)\n", rep.Entries-rep.MatchedAt)
		return nil
	}
	green.Fprintf(w, "✓ matched after all %d entries\n", rep.Entries)
	return nil
}
