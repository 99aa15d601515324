package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"google.golang.org/api/option"

	"github.com/yairfalse/runport/internal/collectors/gcp"
	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/internal/exporter"
	"github.com/yairfalse/runport/internal/output"
	"github.com/yairfalse/runport/internal/publish"
	"github.com/yairfalse/runport/pkg/config"
)

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export Cloud Run services, IAM and Terraform into a directory",
		Long: `Export lists the Cloud Run services of a project, describes each one
together with its IAM policy and runtime service account, and writes:

  manifest.json            canonical description of every exported service
  <name>_config.yaml       raw service configuration
  <name>_iam.yaml          raw IAM policy
  <name>_sa.yaml           runtime service account, when it could be read
  main.tf, variables.tf,   Terraform for the exported services
  terraform.tfvars

The directory is replaced atomically. Files that did not change are not
rewritten, and overwritten files are kept in .history unless --no-history.

Exit codes: 0 complete, 1 some services skipped, 2 listing failed,
3 fatal normalization, synthesis, write or configuration error.`,
		Example: `  # Export the services of one region
  runport export --project my-project --region us-central1 --out ./export

  # Every region the project can deploy to, eight describes at a time
  runport export --all-regions --workers 8

  # Use a service account key and mirror the export to a bucket
  runport export --credentials ./key.json --publish gs://my-bucket/exports/prod`,
		RunE: runExport,
	}

	cmd.Flags().String("project", "", "GCP project ID")
	cmd.Flags().String("region", "", "global region; services here render as var.region")
	cmd.Flags().StringSlice("regions", []string{}, "additional regions to export (comma-separated)")
	cmd.Flags().Bool("all-regions", false, "export every region the project can deploy to")
	cmd.Flags().StringP("out", "o", "", "export directory (default ./export)")
	cmd.Flags().Int("workers", 0, "concurrent describes (default 8, max 64)")
	cmd.Flags().Duration("timeout", 0, "timeout of each API call (default 30s)")
	cmd.Flags().String("credentials", "", "path to a service account key; default is application default credentials")
	cmd.Flags().String("publish", "", "also upload the export to gs://bucket/prefix")
	cmd.Flags().Bool("no-history", false, "do not keep backups of overwritten files")

	viper.BindPFlag("provider.project", cmd.Flags().Lookup("project"))
	viper.BindPFlag("provider.region", cmd.Flags().Lookup("region"))
	viper.BindPFlag("provider.regions", cmd.Flags().Lookup("regions"))
	viper.BindPFlag("provider.all_regions", cmd.Flags().Lookup("all-regions"))
	viper.BindPFlag("provider.credentials", cmd.Flags().Lookup("credentials"))
	viper.BindPFlag("export.out_dir", cmd.Flags().Lookup("out"))
	viper.BindPFlag("export.workers", cmd.Flags().Lookup("workers"))
	viper.BindPFlag("export.request_timeout", cmd.Flags().Lookup("timeout"))
	viper.BindPFlag("export.publish", cmd.Flags().Lookup("publish"))

	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if noHistory, _ := cmd.Flags().GetBool("no-history"); noHistory {
		cfg.Export.KeepHistory = false
	}

	resolution := cfg.ResolveAmbient(config.DefaultAmbient())
	for _, warning := range resolution.Warnings {
		log.Warn(warning)
	}
	if cfg.Provider.Project == "" {
		return errors.ProjectNotConfigured()
	}
	if err := cfg.Validate(); err != nil {
		return errors.InvalidConfiguration("export", err)
	}

	log.WithFields(map[string]interface{}{
		"project":        cfg.Provider.Project,
		"project_source": resolution.ProjectSource,
		"region":         cfg.Provider.Region,
		"region_source":  resolution.RegionSource,
	}).Debug("Resolved target")

	formatter, err := output.NewFormatter(cfg.Output.Format, cfg.Output.NoColor)
	if err != nil {
		return errors.InvalidConfiguration("output", err)
	}

	client, err := gcp.NewClient(ctx, gcp.ClientConfig{
		ProjectID:       cfg.Provider.Project,
		CredentialsFile: cfg.Provider.Credentials,
	})
	if err != nil {
		return errors.EnumerationFailed(cfg.Provider.Project, err)
	}

	exp := exporter.New(gcp.NewRunCollector(client), exporterConfig(cfg), log)

	if cfg.Output.Format == string(output.FormatText) && term.IsTerminal(int(os.Stderr.Fd())) {
		exp.WithProgress(output.NewProgressBar(output.ProgressBarConfig{
			Title:   "Describing",
			Width:   progressWidth(),
			ShowETA: true,
			NoColor: cfg.Output.NoColor,
		}))
	}

	if cfg.Export.Publish != "" {
		publisher, err := newPublisher(ctx, cfg)
		if err != nil {
			log.Error("Publishing disabled", err)
		} else {
			defer publisher.Close()
			exp.WithPublisher(publisher)
		}
	}

	summary, runErr := exp.Run(ctx)
	if err := formatter.FormatSummary(summary, cmd.OutOrStdout()); err != nil {
		log.Error("Failed to write summary", err)
	}
	if runErr != nil {
		return runErr
	}

	exitCode = summary.ExitCode
	return nil
}

func exporterConfig(c *config.Config) exporter.Config {
	return exporter.Config{
		Kind:           c.Provider.Kind,
		ProjectID:      c.Provider.Project,
		Region:         c.Provider.Region,
		Regions:        c.TargetRegions(),
		OutDir:         c.Export.OutDir,
		Workers:        c.Export.Workers,
		RequestTimeout: c.Export.RequestTimeout,
		KeepHistory:    c.Export.KeepHistory,
	}
}

func newPublisher(ctx context.Context, c *config.Config) (*publish.Publisher, error) {
	var opts []option.ClientOption
	if c.Provider.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(c.Provider.Credentials))
	}
	return publish.NewGCS(ctx, c.Export.Publish, log, opts...)
}

// progressWidth leaves room for the title and counters on narrow terminals
func progressWidth() int {
	width, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil || width <= 0 {
		return 30
	}
	if w := width - 40; w < 30 {
		if w < 10 {
			return 10
		}
		return w
	}
	return 30
}
