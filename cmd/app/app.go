package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DRSN-tech/visual-search/internal/app"
	config "github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// cli хранит приложение, собранное в PersistentPreRunE, для всех подкоманд.
type cli struct {
	log logger.Logger
	app *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{log: logger.NewSlogLogger()}

	root := &cobra.Command{
		Use:   "visual-search",
		Short: "Visual product search service",
		Long: `visual-search finds catalog products by image similarity.

Without a subcommand it serves the HTTP and gRPC API.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  c.setup,
		PersistentPostRunE: c.teardown,
		RunE:               c.runServe,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Recover indexes from snapshots and serve the API",
		Args:  cobra.NoArgs,
		RunE:  c.runServe,
	}

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build the index of a search method from IMAGE_PATHS_JSON",
		Long: `Build embeds every image of the corpus in batches and publishes a snapshot
after each checkpoint. Interrupting the build keeps the last completed batch;
run it again with --resume to continue from there.`,
		Args: cobra.NoArgs,
		RunE: c.runBuild,
	}
	buildCmd.Flags().Bool("resume", false, "continue from the last snapshot instead of rebuilding")
	buildCmd.Flags().StringP("method", "m", "", "search method to build (default method if empty)")

	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Measure search accuracy on images already in the index",
		Args:  cobra.NoArgs,
		RunE:  c.runEvaluate,
	}
	evaluateCmd.Flags().IntP("samples", "n", 100, "number of indexed images to query with")
	evaluateCmd.Flags().IntP("top-k", "k", 0, "results per query (DEFAULT_TOP_K if 0)")
	evaluateCmd.Flags().StringP("method", "m", "", "search method to evaluate (default method if empty)")
	evaluateCmd.Flags().Uint64("seed", uint64(time.Now().UnixNano()), "random seed for sampling")

	importCmd := &cobra.Command{
		Use:   "import-catalog [products.json]",
		Short: "Load catalog products into the database",
		Long:  `Import upserts products from the JSON file (SHOE_PRODUCT_JSON_PATH if omitted).`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  c.runImportCatalog,
	}

	root.AddCommand(serveCmd, buildCmd, evaluateCmd, importCmd)
	return root
}

func (c *cli) setup(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.log)
	if err != nil {
		c.log.Errorf(err, "failed to load config")
		return err
	}
	c.log = logger.NewSlogLoggerWith(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	application, err := app.NewApp(cfg, c.log)
	if err != nil {
		c.log.Errorf(err, "failed to initialize app")
		return err
	}
	c.app = application
	return nil
}

func (c *cli) teardown(_ *cobra.Command, _ []string) error {
	if c.app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return c.app.Close(ctx)
}

// closeOnError закрывает ресурсы, если команда упала: PersistentPostRunE в этом случае не вызывается.
func (c *cli) closeOnError(cmd *cobra.Command, err error) error {
	if err != nil {
		_ = c.teardown(cmd, nil)
	}
	return err
}

func (c *cli) runServe(cmd *cobra.Command, _ []string) error {
	err := c.app.Serve(cmd.Context())
	if err != nil {
		c.log.Errorf(err, "serve failed")
	}
	return c.closeOnError(cmd, err)
}

func (c *cli) runBuild(cmd *cobra.Command, _ []string) error {
	resume, _ := cmd.Flags().GetBool("resume")
	method, _ := cmd.Flags().GetString("method")

	report, err := c.app.Build(cmd.Context(), &usecase.BuildReq{
		Method: method,
		Resume: resume,
		Progress: func(s usecase.BatchStats) {
			c.log.Debugf("batch %d committed: %d processed, +%d, %d skipped in %s",
				s.Index, s.Processed, s.Succeeded, s.Skipped, s.Duration)
		},
	})
	if report != nil {
		c.log.Infof("build %s: %d/%d images indexed, %d skipped, %d batches in %s (generation %d, interrupted=%t)",
			report.Method, report.Succeeded, report.Total, report.Skipped, report.Batches,
			report.Duration.Round(time.Millisecond), report.Generation, report.Interrupted)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && report != nil && report.Interrupted {
			c.log.Warnf("build interrupted, run build --resume to continue")
		} else {
			c.log.Errorf(err, "build failed")
		}
	}
	return c.closeOnError(cmd, err)
}

func (c *cli) runEvaluate(cmd *cobra.Command, _ []string) error {
	samples, _ := cmd.Flags().GetInt("samples")
	topK, _ := cmd.Flags().GetInt("top-k")
	method, _ := cmd.Flags().GetString("method")
	seed, _ := cmd.Flags().GetUint64("seed")

	report, err := c.app.Evaluate(cmd.Context(), &usecase.EvaluateReq{
		Method:  method,
		Samples: samples,
		TopK:    topK,
		Seed:    seed,
	})
	if report != nil {
		c.log.Infof("evaluate %s: %d/%d passed (%.1f%%), %d failed, %d skipped, mean latency %s",
			report.Method, report.Passed, report.Samples, report.PassRate*100, report.Failed, report.Skipped,
			report.MeanLatency.Round(time.Microsecond))
	}
	if err != nil {
		c.log.Errorf(err, "evaluate failed")
	}
	return c.closeOnError(cmd, err)
}

func (c *cli) runImportCatalog(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}

	n, err := c.app.ImportCatalog(cmd.Context(), path)
	if err != nil {
		c.log.Errorf(err, "import failed")
		return c.closeOnError(cmd, err)
	}
	c.log.Infof("catalog imported: %d products changed", n)
	return nil
}
