package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"libcatalog/pkg/client"
	"libcatalog/pkg/config"
)

var (
	api    *client.Client
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

var rootCmd = &cobra.Command{
	Use:   "librarian",
	Short: "Command line client for the shared library catalog",
	Long: `librarian lists, edits, borrows and returns books in the shared catalog.
Flags can also be set as LIBRARIAN_<FLAG> environment variables
(e.g. LIBRARIAN_SERVER=http://catalog:8090), also read from .env files.`,
	SilenceUsage:      true,
	PersistentPreRunE: connect,
}

func init() {
	config.RegisterClientFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringP("output", "o", outputTable, "output style (table, json)")

	rootCmd.AddCommand(listCmd, showCmd, addCmd, editCmd, deleteCmd,
		pendingCmd, confirmCmd, cancelCmd,
		borrowCmd, returnCmd, summaryCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func connect(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadClient(cmd.Flags())
	if err != nil {
		return err
	}
	api = client.New(cfg.Server, cfg.User, cfg.Timeout)
	return nil
}
