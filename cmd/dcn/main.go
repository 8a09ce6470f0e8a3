// Command dcn is the command-line interface to the DCN API: wallet login,
// feature and transformation management, execute calls, and a local mock
// server for development.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	dcn "github.com/hypermusic-ai/dcn-sdk"
	"github.com/hypermusic-ai/dcn-sdk/wallet"
)

var (
	logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	baseURL    string
	privateKey string

	rootCmd = &cobra.Command{
		Use:           "dcn",
		Short:         "Client for the DCN API",
		Long:          "dcn talks to a DCN deployment: wallet-based login, feature and\ntransformation resources, account queries and feature execution.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "DCN API base URL (defaults to $DCN_API_BASE)")
	rootCmd.PersistentFlags().StringVar(&privateKey, "private-key", "", "hex private key used for login (defaults to $DCN_PRIVATE_KEY)")
	_ = viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("private_key", rootCmd.PersistentFlags().Lookup("private-key"))
}

// initConfig wires flags, environment and an optional ~/.dcn.yaml together,
// in that order of precedence.
func initConfig() {
	_ = viper.BindEnv("base_url", dcn.EnvBaseURL)
	_ = viper.BindEnv("private_key", wallet.EnvPrivateKey)

	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".dcn")
		viper.SetConfigType("yaml")
		_ = viper.ReadInConfig()
	}
}

func newClient() *dcn.Client {
	return dcn.New(viper.GetString("base_url"), dcn.WithLogger(logger))
}

func newWallet() (*wallet.Wallet, error) {
	if key := viper.GetString("private_key"); key != "" {
		return wallet.FromKey(key)
	}
	logger.Warn("no private key configured, using an ephemeral wallet")
	return wallet.New()
}

// authedClient logs in with the configured wallet before returning the
// client. Used by commands hitting protected endpoints.
func authedClient(ctx context.Context) (*dcn.Client, error) {
	client := newClient()
	w, err := newWallet()
	if err != nil {
		return nil, err
	}
	if _, err := client.LoginWithWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("login as %s: %w", w.Address(), err)
	}
	return client, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
