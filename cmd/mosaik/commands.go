package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/mosaik/pkg/engine"
	"github.com/ravi-parthasarathy/mosaik/pkg/fileio"
	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
	"github.com/ravi-parthasarathy/mosaik/pkg/server"
	"github.com/ravi-parthasarathy/mosaik/pkg/store"
	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

// ─── new ──────────────────────────────────────────────────────────────────────

func newCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "new [name]",
		Short: "Create a workflow with one prompt feeding one Ollama model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := workflowName(args)
			repo, closeRepo, err := a.repository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			if !force {
				if _, err := repo.Load(ctx, name); err == nil {
					return fmt.Errorf("workflow %q already exists (use --force to overwrite)", name)
				} else if !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}
			g := workflow.Default()
			if m := a.cfg.DefaultModel(workflow.ProviderOllama); m != "" {
				_ = g.SetModel(2, m)
			}
			if err := repo.Save(ctx, name, g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created workflow %q\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing workflow")
	return cmd
}

// ─── list ─────────────────────────────────────────────────────────────────────

func listCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closeRepo, err := a.repository(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRepo()
			names, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

// ─── run ──────────────────────────────────────────────────────────────────────

func runCmd(a *app) *cobra.Command {
	var (
		parallel bool
		export   bool
		noSave   bool
	)
	cmd := &cobra.Command{
		Use:   "run [name]",
		Short: "Execute every model node that needs it, in dependency order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := signalContext(cmd.Context())
			name := workflowName(args)
			repo, closeRepo, err := a.repository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			g, err := loadWorkflow(ctx, repo, name)
			if err != nil {
				return err
			}
			if err := workflow.ValidateErr(g); err != nil {
				return fmt.Errorf("invalid workflow: %w", err)
			}

			// Saves use the parent context so an interrupted run still
			// records what finished.
			saveCtx := cmd.Context()
			s := workflow.NewStore(g)
			opts := engine.Options{Parallel: parallel || a.cfg.Parallel}
			if !noSave {
				opts.Checkpoint = func(g *workflow.Graph) error { return repo.Save(saveCtx, name, g) }
			}
			e, _, err := a.newEngine(s, opts)
			if err != nil {
				return err
			}
			runErr := e.Run(ctx)

			if export {
				paths, err := fileio.ExportAll(s)
				for _, p := range paths {
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
				}
				runErr = errors.Join(runErr, err)
			}
			if !noSave {
				// Failed nodes roll back, so the final state differs from the
				// last checkpoint.
				if err := repo.Save(saveCtx, name, s.Snapshot()); err != nil {
					runErr = errors.Join(runErr, err)
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), renderOutputs(s.Snapshot()))
			return runErr
		},
	}
	cmd.Flags().BoolVar(&parallel, "parallel", false, "run independent model nodes concurrently")
	cmd.Flags().BoolVar(&export, "export", false, "write file export nodes after the run")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not save results back to the store")
	return cmd
}

// ─── send ─────────────────────────────────────────────────────────────────────

func sendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <name> <node-id> <message>",
		Short: "Send a chat message to a model node and stream its reply",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := signalContext(cmd.Context())
			name := args[0]
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("node id %q: %w", args[1], err)
			}
			repo, closeRepo, err := a.repository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			g, err := loadWorkflow(ctx, repo, name)
			if err != nil {
				return err
			}
			s := workflow.NewStore(g)
			e, _, err := a.newEngine(s, engine.Options{})
			if err != nil {
				return err
			}
			if err := e.Send(ctx, id, args[2]); err != nil {
				return err
			}
			if err := repo.Save(ctx, name, s.Snapshot()); err != nil {
				return err
			}
			s.View(func(g *workflow.Graph) {
				if n, ok := g.Node(id); ok && n.Output != nil {
					fmt.Fprintln(cmd.OutOrStdout(), *n.Output)
				}
			})
			return nil
		},
	}
}

// ─── import ───────────────────────────────────────────────────────────────────

func importCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <graph.dot> <name>",
		Short: "Create a workflow from a Graphviz DOT file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			g, err := workflow.ParseDOT(string(src))
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			if err := workflow.ValidateErr(g); err != nil {
				return err
			}
			repo, closeRepo, err := a.repository(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRepo()
			if err := repo.Save(cmd.Context(), args[1], g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d nodes, %d connections as %q\n",
				g.Len(), len(g.Connections()), args[1])
			return nil
		},
	}
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lint [name]",
		Short: "Check a saved workflow for structural problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := workflowName(args)
			repo, closeRepo, err := a.repository(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRepo()
			g, err := repo.Load(cmd.Context(), name)
			if err != nil {
				return err
			}
			for _, e := range workflow.Validate(g) {
				if e.Warning {
					fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
				}
			}
			if err := workflow.ValidateErr(g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: workflow %q is valid (%d nodes, %d connections)\n",
				name, g.Len(), len(g.Connections()))
			return nil
		},
	}
}

// ─── models ───────────────────────────────────────────────────────────────────

func modelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models <provider>",
		Short: "List the models a provider offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := workflow.Provider(strings.ToLower(args[0]))
			if !workflow.KnownProvider(p) {
				return fmt.Errorf("unknown provider %q (available: %s)", args[0], strings.Join(llm.Providers(), ", "))
			}
			client, err := engine.NewClients(a.cfg.ProviderOptions()).Client(p)
			if err != nil {
				return err
			}
			models, err := client.Models(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

// ─── model ────────────────────────────────────────────────────────────────────

func modelCmd(a *app) *cobra.Command {
	var thinking bool
	cmd := &cobra.Command{
		Use:   "model <name> <node-id> <provider:model>",
		Short: "Point a model node at a provider and model, e.g. anthropic:claude-sonnet-4-20250514",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("node id %q: %w", args[1], err)
			}
			provider, model, err := llm.ParseModelID(args[2])
			if err != nil {
				return err
			}
			p := workflow.Provider(strings.ToLower(provider))
			if !workflow.KnownProvider(p) {
				return fmt.Errorf("unknown provider %q (available: %s)", provider, strings.Join(llm.Providers(), ", "))
			}
			repo, closeRepo, err := a.repository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()
			g, err := repo.Load(ctx, name)
			if err != nil {
				return err
			}
			if err := g.SetProvider(id, p); err != nil {
				return err
			}
			if err := g.SetModel(id, model); err != nil {
				return err
			}
			if cmd.Flags().Changed("thinking") {
				if err := g.SetThinking(id, thinking); err != nil {
					return err
				}
			}
			if err := repo.Save(ctx, name, g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "node %d now uses %s:%s\n", id, p, model)
			return nil
		},
	}
	cmd.Flags().BoolVar(&thinking, "thinking", false, "request reasoning output from the model")
	return cmd
}

// ─── serve ────────────────────────────────────────────────────────────────────

func serveCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve [name]",
		Short: "Serve a workflow over the HTTP API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := signalContext(cmd.Context())
			name := workflowName(args)
			repo, closeRepo, err := a.repository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			g, err := loadWorkflow(ctx, repo, name)
			if errors.Is(err, store.ErrNotFound) {
				g, err = workflow.Default(), nil
			}
			if err != nil {
				return err
			}
			s := workflow.NewStore(g)
			e, clients, err := a.newEngine(s, engine.Options{Parallel: a.cfg.Parallel})
			if err != nil {
				return err
			}
			svc, err := server.New(server.Options{Store: s, Engine: e, Clients: clients, Repo: repo, Name: name})
			if err != nil {
				return err
			}
			if listen == "" {
				listen = a.cfg.Listen
			}
			return svc.ListenAndServe(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default from config, 127.0.0.1:7777)")
	return cmd
}
