// Command imactl is the command-line client of the imad daemon.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LorenzoFerro15/linux-ima-namespaces/pkg/client"
)

var (
	daemonURL string
	tokenFile string
	cfgFile   string
	nsID      int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "imactl",
	Short: "Inspect and drive an imad measurement daemon",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".imactl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("imactl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if daemonURL == "" {
			daemonURL = viper.GetString("daemon")
		}
		if daemonURL == "" {
			daemonURL = "http://localhost:8080"
		}
		if tokenFile == "" {
			tokenFile = viper.GetString("token_file")
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.imactl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&daemonURL, "daemon", "", "imad URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "admin token written by 'imad token'")
	rootCmd.PersistentFlags().IntVarP(&nsID, "ns", "n", 1, "namespace id")

	nsCmd.AddCommand(nsListCmd, nsCreateCmd, nsActivateCmd, nsTeardownCmd)
	rootCmd.AddCommand(nsCmd, asciiCmd, binaryCmd, countCmd, violationsCmd, measureCmd, pcrCmd, auditCmd, verifyCmd)

	nsCreateCmd.Flags().IntVar(&createParent, "parent", 1, "parent namespace")
	nsCreateCmd.Flags().BoolVar(&createActivate, "activate", false, "activate the namespace right away")

	binaryCmd.Flags().StringVarP(&binaryOut, "out", "o", "", "write to file instead of stdout")

	measureCmd.Flags().StringVar(&measureDigest, "digest", "", "hex file digest (default: sha256 of the file)")
	measureCmd.Flags().StringVar(&measureName, "name", "", "event name (default: the file path)")
	measureCmd.Flags().StringVar(&measureTemplate, "template", "", "template name or format (default ima-ng)")
	measureCmd.Flags().StringVar(&measureHook, "hook", "", "hook that took the measurement, e.g. bprm")
	measureCmd.Flags().IntVar(&measurePCR, "pcr", -1, "register to extend (default: daemon setting)")
	measureCmd.Flags().BoolVar(&measureViolation, "violation", false, "record a violation entry")
	measureCmd.Flags().BoolVar(&measureLocal, "local", false, "admit into the namespace only")

	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "number of records")
}

func newClient() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(30 * time.Second)}
	if tokenFile != "" {
		opts = append(opts, client.WithTokenFile(tokenFile))
	}
	return client.New(daemonURL, opts...)
}

func withClient(fn func(ctx context.Context, c *client.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return fn(cmd.Context(), c, args)
	}
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid namespace id %q", s)
	}
	return id, nil
}

// ── namespaces ───────────────────────────────────────────────────────────────

var (
	createParent   int
	createActivate bool
)

var nsCmd = &cobra.Command{
	Use:   "ns",
	Short: "Manage measurement namespaces",
}

var nsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live namespaces",
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		all, err := c.ListNamespaces(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPARENT\tSTATE\tENTRIES\tVIOLATIONS\tSIZE")
		for _, ns := range all {
			parent := "-"
			if ns.Parent != 0 {
				parent = strconv.Itoa(ns.Parent)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\n", ns.ID, parent, ns.State, ns.Entries, ns.Violations, ns.RuntimeSize)
		}
		return w.Flush()
	}),
}

var nsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a child namespace",
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		ns, err := c.CreateNamespace(ctx, createParent, createActivate)
		if err != nil {
			return err
		}
		fmt.Printf("namespace %d created under %d (%s)\n", ns.ID, createParent, ns.State)
		return nil
	}),
}

var nsActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Activate a created namespace",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return c.Activate(ctx, id)
	}),
}

var nsTeardownCmd = &cobra.Command{
	Use:   "teardown <id>",
	Short: "Destroy a namespace and its log",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return c.Teardown(ctx, id)
	}),
}

// ── log views ────────────────────────────────────────────────────────────────

var binaryOut string

var asciiCmd = &cobra.Command{
	Use:   "ascii",
	Short: "Print the ASCII measurement list",
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		b, err := c.ASCIIMeasurements(ctx, nsID)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(b)
		return err
	}),
}

var binaryCmd = &cobra.Command{
	Use:   "binary",
	Short: "Download the binary measurement list",
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		b, err := c.BinaryMeasurements(ctx, nsID)
		if err != nil {
			return err
		}
		if binaryOut == "" {
			_, err = os.Stdout.Write(b)
			return err
		}
		return os.WriteFile(binaryOut, b, 0o644)
	}),
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of measurements",
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		n, err := c.Count(ctx, nsID)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	}),
}

var violationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "Print the violation counter",
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		n, err := c.Violations(ctx, nsID)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	}),
}

var pcrCmd = &cobra.Command{
	Use:   "pcr <index>",
	Short: "Print every bank of a trust-anchor register",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string) error {
		pcr, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid pcr %q", args[0])
		}
		banks, err := c.PCR(ctx, pcr)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for alg, v := range banks {
			fmt.Fprintf(w, "%s\t%s\n", alg, v)
		}
		return w.Flush()
	}),
}

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent admission audit records",
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		recs, err := c.Audit(ctx, nsID, auditLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tOP\tPCR\tCAUSE\tRESULT\tINFO")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%t\n", r.Time.Format(time.RFC3339), r.Op, r.PCR, r.Cause, r.Result, r.Info)
		}
		return w.Flush()
	}),
}

// ── measure ──────────────────────────────────────────────────────────────────

var (
	measureDigest    string
	measureName      string
	measureTemplate  string
	measureHook      string
	measurePCR       int
	measureViolation bool
	measureLocal     bool
)

var measureCmd = &cobra.Command{
	Use:   "measure <path>",
	Short: "Submit a measurement of a file",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string) error {
		path := args[0]
		req := client.MeasureRequest{
			Template:  measureTemplate,
			Name:      measureName,
			Hook:      measureHook,
			Violation: measureViolation,
			Local:     measureLocal,
		}
		if req.Name == "" {
			req.Name = path
		}
		if measurePCR >= 0 {
			req.PCR = &measurePCR
		}
		switch {
		case measureDigest != "":
			req.FileDigest = measureDigest
		case !measureViolation:
			d, err := fileSHA256(path)
			if err != nil {
				return err
			}
			req.FileDigest = d
			req.Algorithm = "sha256"
		}

		res, err := c.Measure(ctx, nsID, req)
		if res != nil {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "digest\t%s\n", res.Digest)
			for _, a := range res.Admissions {
				outcome := "stored"
				if !a.Stored {
					outcome = fmt.Sprintf("%s (%d)", a.Code, a.Errno)
				}
				fmt.Fprintf(w, "ns %d\t#%d\t%s\n", a.Namespace, a.Position, outcome)
			}
			w.Flush()
		}
		if client.IsDuplicate(err) {
			return nil
		}
		return err
	}),
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
