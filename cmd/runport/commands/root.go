package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/internal/logger"
	"github.com/yairfalse/runport/pkg/config"
)

var (
	cfgFile string
	cfg     *config.Config
	log     logger.Logger

	// exitCode is set by commands that finish without an error but must not exit 0
	exitCode = errors.ExitOK
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "runport",
	Short: "Export Cloud Run services and their IAM as Terraform",
	Long: `runport exports the configuration and IAM policy of a project's Cloud Run
services into a canonical manifest, raw YAML snapshots and Terraform.

Every export is compared with the previous one in the same directory;
unchanged services produce byte-identical files.

  runport export --project my-project --region us-central1 --out ./export`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			runVersion(cmd, []string{})
			return nil
		}
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command and exits with the export exit code
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if term.IsTerminal(int(os.Stderr.Fd())) {
			errors.DisplayError(err)
		} else {
			fmt.Fprint(os.Stderr, errors.FormatErrorWithContext(err, errorContext(cfg)))
		}
		os.Exit(errors.GetExitCode(err))
	}
	os.Exit(exitCode)
}

// errorContext names the export target in plain error output
func errorContext(c *config.Config) map[string]string {
	context := map[string]string{}
	if c == nil {
		return context
	}
	if c.Provider.Project != "" {
		context["project"] = c.Provider.Project
	}
	if c.Provider.Region != "" {
		context["region"] = c.Provider.Region
	}
	if c.Export.OutDir != "" {
		context["out_dir"] = c.Export.OutDir
	}
	return context
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.runport/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("output", "text", "summary format (text, json)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.Flags().Bool("version", false, "show version information")

	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("output.format", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("output.no_color", rootCmd.PersistentFlags().Lookup("no-color"))

	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newVersionCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	v := viper.GetViper()
	config.Setup(v, cfgFile)

	var err error
	cfg, err = config.Load(v)
	if err != nil {
		return errors.InvalidConfiguration("config file", err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return errors.InvalidConfiguration("paths", err)
	}

	log, err = logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		return errors.InvalidConfiguration("logging", err)
	}

	return nil
}
