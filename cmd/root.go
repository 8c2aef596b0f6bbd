package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aves-app/aves/cmd/migrate"
	"github.com/aves-app/aves/cmd/seed"
	"github.com/aves-app/aves/cmd/serve"
	"github.com/aves-app/aves/cmd/version"
	"github.com/aves-app/aves/internal/conf"
)

// RootCommand creates and returns the root command. Settings are loaded in
// PersistentPreRunE so flags bound to viper take precedence over the file.
func RootCommand() *cobra.Command {
	settings := &conf.Settings{}
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "aves",
		Short:         "AVES bird vocabulary learning server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	versionCmd := version.Command()
	rootCmd.AddCommand(
		serve.Command(settings),
		migrate.Command(settings),
		seed.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		return nil
	}

	return rootCmd
}

func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
