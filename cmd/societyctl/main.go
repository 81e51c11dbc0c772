package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/societyclient/pkg/apiclient"
)

var errNotSignedIn = errors.New("societyctl.not_signed_in: run `societyctl login` first")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "societyctl",
		Short:             "Society API client with persistent sessions and transparent token refresh",
		SilenceUsage:      true,
		PersistentPreRunE: prepareClientConfig,
	}

	rootCmd.PersistentFlags().String("base_url", "", "API base URL, e.g. http://localhost:8080/api/v1")
	rootCmd.PersistentFlags().Duration("timeout", apiclient.DefaultTimeout, "Per-request timeout")
	rootCmd.PersistentFlags().String("store_url", defaultStoreURL, "Session store URL (sqlite:// or postgres://)")
	rootCmd.PersistentFlags().String("refresh_path", apiclient.DefaultRefreshPath, "Refresh endpoint relative to base_url")
	rootCmd.PersistentFlags().String("log_level", defaultLogLevel, "Log level: debug, info, warn, error")

	_ = viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("base_url"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("store_url", rootCmd.PersistentFlags().Lookup("store_url"))
	_ = viper.BindPFlag("refresh_path", rootCmd.PersistentFlags().Lookup("refresh_path"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log_level"))

	viper.SetEnvPrefix("SOCIETY")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newLoginCommand(),
		newRegisterCommand(),
		newLogoutCommand(),
		newWhoAmICommand(),
		newMembersCommand(),
		newLogsCommand(),
		newUsersCommand(),
		newRequestCommand(),
		newStubCommand(),
	)
	return rootCmd
}
