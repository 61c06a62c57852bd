package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/dyncomp/internal/config"
	"github.com/zjrosen/dyncomp/internal/orchestration/session"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the configuration file",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), configFilePath())
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write the default config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFilePath()
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configSetModeCmd = &cobra.Command{
	Use:   "set-mode immediate|deferred",
	Short: "Set the default execution mode",
	Long: `Set execution.mode in the config file. Comments and other settings in
the file are kept.

In immediate mode every call waits for the executor and reports errors
directly. In deferred mode builds are queued and failures are reported only
as build_failed events.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(session.ModeImmediate), string(session.ModeDeferred)},
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := session.ParseMode(args[0])
		if err != nil {
			return err
		}
		path := configFilePath()
		if err := config.SaveExecutionMode(path, mode); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "execution.mode = %s (%s)\n", mode, path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configPathCmd, configInitCmd, configSetModeCmd)
	rootCmd.AddCommand(configCmd)
}
