package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalOptions struct {
	baseURL string
	token   string
	user    string
	debug   bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "boardctl",
		Short:         "Inspect and rearrange a task board from the terminal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.debug {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.baseURL, "base-url", envOr("REMOTE_BASE_URL", "http://localhost:8080"), "Task store base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("BOARD_TOKEN"), "Bearer token for the task store")
	flags.StringVarP(&opts.user, "user", "u", os.Getenv("BOARD_USER"), "Username the board is shown for")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(listCmd(opts))
	rootCmd.AddCommand(createCmd(opts))
	rootCmd.AddCommand(editCmd(opts))
	rootCmd.AddCommand(moveCmd(opts))
	rootCmd.AddCommand(deleteCmd(opts))
	rootCmd.AddCommand(usernamesCmd(opts))
	rootCmd.AddCommand(initStorageCmd())
	return rootCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
