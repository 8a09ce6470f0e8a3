package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	dcn "github.com/hypermusic-ai/dcn-sdk"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the deployed API version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newClient().Version(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var nonceCmd = &cobra.Command{
	Use:   "nonce <address>",
	Short: "Fetch a login nonce for an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newClient().Nonce(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with the configured wallet and print the token pair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		w, err := newWallet()
		if err != nil {
			return err
		}
		out, err := client.LoginWithWallet(cmd.Context(), w)
		if err != nil {
			return fmt.Errorf("login as %s: %w", w.Address(), err)
		}
		return printJSON(out)
	},
}

var (
	accountLimit int
	accountPage  int

	accountCmd = &cobra.Command{
		Use:   "account <address>",
		Short: "Show an account and the resources it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := authedClient(cmd.Context())
			if err != nil {
				return err
			}
			out, err := client.AccountInfo(cmd.Context(), args[0], accountLimit, accountPage)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
)

var featureCmd = &cobra.Command{
	Use:   "feature",
	Short: "Query and register features",
}

var featureGetCmd = &cobra.Command{
	Use:   "get <name> [version]",
	Short: "Fetch a feature (latest version unless one is given)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version := ""
		if len(args) == 2 {
			version = args[1]
		}
		out, err := newClient().GetFeature(cmd.Context(), args[0], version)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var (
	featureFile string

	featureCreateCmd = &cobra.Command{
		Use:   "create --file <feature.json>",
		Short: "Register a feature from a JSON definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(featureFile)
			if err != nil {
				return err
			}
			var req dcn.NewFeature
			if err := json.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("parse %s: %w", featureFile, err)
			}
			client, err := authedClient(cmd.Context())
			if err != nil {
				return err
			}
			out, err := client.CreateFeature(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
)

var transformationCmd = &cobra.Command{
	Use:   "transformation",
	Short: "Query and register transformations",
}

var transformationGetCmd = &cobra.Command{
	Use:   "get <name> [version]",
	Short: "Fetch a transformation (latest version unless one is given)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version := ""
		if len(args) == 2 {
			version = args[1]
		}
		out, err := newClient().GetTransformation(cmd.Context(), args[0], version)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var (
	transformationSrc string

	transformationCreateCmd = &cobra.Command{
		Use:   "create <name> --src <source>",
		Short: "Register a transformation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := authedClient(cmd.Context())
			if err != nil {
				return err
			}
			out, err := client.CreateTransformation(cmd.Context(), dcn.NewTransformation{
				Name:   args[0],
				SolSrc: transformationSrc,
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
)

var (
	executeInstances string

	executeCmd = &cobra.Command{
		Use:   "execute <feature> <num-samples>",
		Short: "Execute a feature",
		Long:  "Execute a feature for a number of samples, optionally parameterized\nby running instances given in the wire form \"[(a;b),(c;d)]\".",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			numSamples, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid sample count %q: %w", args[1], err)
			}
			var instances []dcn.RunningInstance
			if executeInstances != "" {
				instances, err = dcn.DecodeRunningInstances(executeInstances)
				if err != nil {
					return err
				}
			}
			client, err := authedClient(cmd.Context())
			if err != nil {
				return err
			}
			out, err := client.Execute(cmd.Context(), args[0], numSamples, instances)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
)

func init() {
	accountCmd.Flags().IntVar(&accountLimit, "limit", 50, "page size")
	accountCmd.Flags().IntVar(&accountPage, "page", 0, "page number")

	featureCreateCmd.Flags().StringVar(&featureFile, "file", "", "path to the feature definition")
	_ = featureCreateCmd.MarkFlagRequired("file")
	featureCmd.AddCommand(featureGetCmd, featureCreateCmd)

	transformationCreateCmd.Flags().StringVar(&transformationSrc, "src", "", "transformation source code")
	_ = transformationCreateCmd.MarkFlagRequired("src")
	transformationCmd.AddCommand(transformationGetCmd, transformationCreateCmd)

	executeCmd.Flags().StringVar(&executeInstances, "instances", "", "running instances, e.g. \"[(12;3),(1;1)]\"")

	rootCmd.AddCommand(versionCmd, nonceCmd, loginCmd, accountCmd, featureCmd, transformationCmd, executeCmd)
}
