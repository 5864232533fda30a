package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jward/xrefdb"
)

// --- ingest ---

var (
	flagForce      bool
	flagWorkers    int
	flagScriptsDir string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Ingest files and directories, then resolve links",
	Long:  "Runs the ingestion script for each file, stores the topics and links it emits, and resolves every changed link. Directories are listed with git ls-files when possible.",
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&flagForce, "force", false, "re-run scripts on files whose content has not changed")
	ingestCmd.Flags().IntVar(&flagWorkers, "workers", 0, "script and resolver workers (default: from the config)")
	ingestCmd.Flags().StringVar(&flagScriptsDir, "scripts-dir", "", "load scripts from disk path instead of embedded")
}

func runIngest(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	start := time.Now()
	if len(args) == 0 {
		args = []string{"."}
	}

	var opts []xrefdb.Option
	if flagForce {
		opts = append(opts, xrefdb.WithForce(true))
	}
	if flagWorkers > 0 {
		opts = append(opts, xrefdb.WithWorkers(flagWorkers))
	}
	if flagScriptsDir != "" {
		opts = append(opts, xrefdb.WithScriptsDir(flagScriptsDir))
	}

	engine, logger, err := openEngine(opts...)
	if err != nil {
		return outputError(out, "ingest", err)
	}
	defer engine.Close()

	ctx := cmd.Context()
	var total xrefdb.IngestSummary
	var ingestErr error
	var files []string
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return outputError(out, "ingest", fmt.Errorf("resolving path %q: %w", arg, err))
		}
		info, err := os.Stat(abs)
		if err != nil {
			return outputError(out, "ingest", fmt.Errorf("path not found: %s", abs))
		}
		if !info.IsDir() {
			files = append(files, abs)
			continue
		}
		summary, err := engine.IngestDirectory(ctx, abs)
		addSummary(&total, summary)
		if err != nil && ingestErr == nil {
			ingestErr = err
		}
	}
	if len(files) > 0 {
		summary, err := engine.IngestFiles(ctx, files)
		addSummary(&total, summary)
		if err != nil && ingestErr == nil {
			ingestErr = err
		}
	}
	ingestDuration := time.Since(start)

	resolveStart := time.Now()
	if err := engine.Resolve(ctx); err != nil {
		return outputError(out, "ingest", fmt.Errorf("resolving: %w", err))
	}
	stats, err := engine.Stats(ctx)
	if err != nil {
		return outputError(out, "ingest", err)
	}

	logger.Info("ingest complete",
		"duration", time.Since(start).Round(time.Millisecond),
		"ingest", ingestDuration.Round(time.Millisecond),
		"resolve", time.Since(resolveStart).Round(time.Millisecond))

	result := CLIResult{Command: "ingest", Results: CLIIngestSummary{IngestSummary: total, Stats: stats}}
	if ingestErr != nil {
		result.Error = ingestErr.Error()
		errorHandled = true
	}
	if err := outputResult(out, result); err != nil {
		return err
	}
	return ingestErr
}

func addSummary(total *xrefdb.IngestSummary, s xrefdb.IngestSummary) {
	total.Ingested += s.Ingested
	total.Images += s.Images
	total.Unchanged += s.Unchanged
	total.Skipped += s.Skipped
	total.Failed += s.Failed
}

// --- resolve ---

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve links waiting since the last run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		engine, _, err := openEngine()
		if err != nil {
			return outputError(out, "resolve", err)
		}
		defer engine.Close()

		if err := engine.Resolve(cmd.Context()); err != nil {
			return outputError(out, "resolve", err)
		}
		stats, err := engine.Stats(cmd.Context())
		if err != nil {
			return outputError(out, "resolve", err)
		}
		return outputResult(out, CLIResult{Command: "resolve", Results: stats})
	},
}

// --- watch ---

var flagMetricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch [dirs...]",
	Short: "Ingest directories and keep the database current as files change",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		args = []string{"."}
	}
	dirs := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return outputError(out, "watch", err)
		}
		dirs = append(dirs, abs)
	}

	engine, logger, err := openEngine()
	if err != nil {
		return outputError(out, "watch", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: flagMetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", flagMetricsAddr)
	}

	for _, dir := range dirs {
		summary, err := engine.IngestDirectory(ctx, dir)
		if err != nil {
			logger.Warn("initial ingest had errors", "dir", dir, "error", err)
		}
		logger.Info("initial ingest", "dir", dir, "ingested", summary.Ingested, "unchanged", summary.Unchanged)
	}
	if err := engine.Resolve(ctx); err != nil && ctx.Err() == nil {
		return outputError(out, "watch", err)
	}

	if err := engine.Watch(ctx, dirs); err != nil {
		return outputError(out, "watch", err)
	}
	return nil
}

// --- queries ---

var topicsCmd = &cobra.Command{
	Use:   "topics <file>",
	Short: "List the topics defined in a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		engine, _, err := openEngine()
		if err != nil {
			return outputError(out, "topics", err)
		}
		defer engine.Close()

		path, err := filepath.Abs(args[0])
		if err != nil {
			return outputError(out, "topics", err)
		}
		topics, err := engine.TopicsInFile(cmd.Context(), path)
		if err != nil {
			return outputError(out, "topics", err)
		}
		results := make([]CLITopic, 0, len(topics))
		for _, t := range topics {
			results = append(results, topicToCLI(engine.Registry(), t))
		}
		count := len(results)
		return outputResult(out, CLIResult{Command: "topics", Results: results, TotalCount: &count})
	},
}

var linksCmd = &cobra.Command{
	Use:   "links <file>",
	Short: "List the links in a file and where they resolve",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		engine, _, err := openEngine()
		if err != nil {
			return outputError(out, "links", err)
		}
		defer engine.Close()

		path, err := filepath.Abs(args[0])
		if err != nil {
			return outputError(out, "links", err)
		}
		links, err := engine.LinksInFile(cmd.Context(), path)
		if err != nil {
			return outputError(out, "links", err)
		}
		results := make([]CLILink, 0, len(links))
		for _, l := range links {
			results = append(results, linkToCLI(l))
		}
		count := len(results)
		return outputResult(out, CLIResult{Command: "links", Results: results, TotalCount: &count})
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List ingested files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		engine, _, err := openEngine()
		if err != nil {
			return outputError(out, "files", err)
		}
		defer engine.Close()

		files, err := engine.Files(cmd.Context())
		if err != nil {
			return outputError(out, "files", err)
		}
		results := make([]CLIFile, 0, len(files))
		for _, f := range files {
			results = append(results, fileToCLI(engine.Registry(), f))
		}
		count := len(results)
		return outputResult(out, CLIResult{Command: "files", Results: results, TotalCount: &count})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show table sizes and link resolution counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		engine, _, err := openEngine()
		if err != nil {
			return outputError(out, "stats", err)
		}
		defer engine.Close()

		stats, err := engine.Stats(cmd.Context())
		if err != nil {
			return outputError(out, "stats", err)
		}
		return outputResult(out, CLIResult{Command: "stats", Results: stats})
	},
}
