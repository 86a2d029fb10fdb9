// Command imad is the namespaced measurement-log daemon.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "imad",
	Short: "Namespaced integrity measurement daemon",
	Long: `imad keeps an append-only measurement log per namespace, extends every
admitted measurement into the trust-anchor registers, and serves the logs
over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/imad.yaml or ./imad.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the imad version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("imad.port", 8080)
	v.SetDefault("imad.grpc_port", 9090)
	v.SetDefault("imad.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("imad.rate_limit_rps", 20)
	v.SetDefault("imad.debug", false)
	v.SetDefault("log.hash_buckets", 1024)
	v.SetDefault("log.disable_htable", false)
	v.SetDefault("log.max_entries", 0)
	v.SetDefault("log.index_algorithm", "sha256")
	v.SetDefault("log.pcr", 10)
	v.SetDefault("log.carry_over_file", "")
	v.SetDefault("gate.capacity", 1024)
	v.SetDefault("gate.timeout", "5s")
	v.SetDefault("tpm.enabled", true)
	v.SetDefault("tpm.banks", []string{"sha1", "sha256"})
	v.SetDefault("audit.redis_url", "")
	v.SetDefault("audit.redis_max_len", 10000)
	v.SetDefault("audit.database_url", "")
	v.SetDefault("audit.webhook_url", "")
	v.SetDefault("audit.webhook_secret", "")
	v.SetDefault("audit.webhook_all", false)
	v.SetDefault("health.check_interval", "30s")
	v.SetDefault("auth.key_file", "certs/imad-signing.key")
	v.SetDefault("auth.issuer", "imad")
	v.SetDefault("auth.token_ttl_seconds", 3600)
}

// loadConfig reads the config file and environment into the global viper
// instance. A missing config file is not an error.
func loadConfig() (found bool, err error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("imad")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("configs")
		viper.AddConfigPath(".")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return false, fmt.Errorf("read config: %w", err)
		}
		return false, nil
	}
	return true, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
