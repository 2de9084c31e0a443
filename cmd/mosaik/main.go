package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/mosaik/pkg/config"
	"github.com/ravi-parthasarathy/mosaik/pkg/engine"
	"github.com/ravi-parthasarathy/mosaik/pkg/store"
	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"

	// Register all LLM providers via their init() functions.
	_ "github.com/ravi-parthasarathy/mosaik/pkg/llm/providers"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries settings resolved once per invocation.
type app struct {
	configPath  string
	logLevel    string
	logFormat   string
	storeDir    string
	databaseURL string

	cfg *config.Config
}

func rootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "mosaik",
		Short: "Mosaik: node-graph LLM workflows",
		Long: `Mosaik runs workflows of prompt, file and model nodes.

Outputs flow along connections into downstream inputs; model nodes are
executed in dependency order and stream their replies back into the graph.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "HCL config file (default <user config dir>/mosaik/config.hcl)")
	f.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	f.StringVar(&a.storeDir, "store", "", "directory holding saved workflows")
	f.StringVar(&a.databaseURL, "database-url", "", "store workflows in Postgres instead of files")

	root.AddCommand(newCmd(a))
	root.AddCommand(listCmd(a))
	root.AddCommand(runCmd(a))
	root.AddCommand(sendCmd(a))
	root.AddCommand(graphCmd(a))
	root.AddCommand(importCmd(a))
	root.AddCommand(lintCmd(a))
	root.AddCommand(modelsCmd(a))
	root.AddCommand(modelCmd(a))
	root.AddCommand(serveCmd(a))
	return root
}

// init loads .env and the config file, then applies flag overrides.
func (a *app) init(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if flags.Changed("store") {
		cfg.WorkflowDir = a.storeDir
	}
	if flags.Changed("database-url") {
		cfg.DatabaseURL = a.databaseURL
	}
	if err := initLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// initLogger installs the default slog logger writing to stderr.
func initLogger(level, format string) error {
	return initLoggerTo(os.Stderr, level, format)
}

func initLoggerTo(w io.Writer, level, format string) error {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text", "":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q: use text or json", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// repository opens the configured workflow store. The caller closes it.
func (a *app) repository(ctx context.Context) (store.Repository, func(), error) {
	if a.cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	dir := a.cfg.WorkflowDir
	if dir == "" {
		d, err := store.DefaultDir()
		if err != nil {
			return nil, nil, err
		}
		dir = d
	}
	files, err := store.NewFileStore(dir)
	if err != nil {
		return nil, nil, err
	}
	return files, func() {}, nil
}

// loadWorkflow reads a saved workflow and clears execution flags left set
// by an interrupted run.
func loadWorkflow(ctx context.Context, repo store.Repository, name string) (*workflow.Graph, error) {
	g, err := repo.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if n := g.ClearStaleExecutions(); n > 0 {
		slog.Info("cleared stale executions", "workflow", name, "nodes", n)
	}
	return g, nil
}

func (a *app) newEngine(s *workflow.Store, opts engine.Options) (*engine.Engine, engine.Resolver, error) {
	clients := engine.NewClients(a.cfg.ProviderOptions())
	e, err := engine.New(s, clients, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("build engine: %w", err)
	}
	return e, clients, nil
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[mosaik] interrupted; cancelling")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

func workflowName(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "default"
}
