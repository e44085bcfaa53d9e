package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ravi-parthasarathy/loom/pkg/flow"
	"github.com/ravi-parthasarathy/loom/pkg/flow/engine"
	"github.com/ravi-parthasarathy/loom/pkg/llm"
	"github.com/ravi-parthasarathy/loom/pkg/llm/providers"
	"github.com/ravi-parthasarathy/loom/pkg/tools"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)
	root := &cobra.Command{
		Use:   "loom",
		Short: "Loom — declarative workflow runner",
		Long: `Loom executes YAML workflow documents: directed graphs of typed nodes
(llm, router, shell, agent, map, interrupt, …) with conditional edges,
bounded parallel fan-out, loop guards, and resumable human interrupts.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initLogger(logLevel, logFormat)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	root.AddCommand(runCmd())
	root.AddCommand(resumeCmd())
	root.AddCommand(lintCmd())
	root.AddCommand(graphCmd())
	return root
}

// initLogger installs the process-wide slog handler.
func initLogger(level, format string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// ─── run ──────────────────────────────────────────────────────────────────────

func runCmd() *cobra.Command {
	var (
		workdir       string
		defaultModel  string
		checkpointDir string
		outputPath    string
		sets          []string
	)

	cmd := &cobra.Command{
		Use:   "run <flow.yaml>",
		Short: "Execute a workflow from the beginning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := parseSetFlags(sets)
			if err != nil {
				return err
			}
			eng, err := buildEngine(args[0], workdir, defaultModel, checkpointDir)
			if err != nil {
				return err
			}
			ctx := signalContext(cmd.Context())
			out, err := eng.Run(ctx, initial)
			if err != nil {
				return err
			}
			if err := writeFinal(outputPath, out.Final); err != nil {
				return err
			}
			return printOutcome(out)
		},
	}

	cmd.Flags().StringVar(&workdir, "workdir", ".", "working directory for shell, code, and tool execution")
	cmd.Flags().StringVar(&defaultModel, "model", "", "default LLM model (provider:model-id), overrides the document")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "directory for suspension checkpoints (default: in-memory)")
	cmd.Flags().StringVar(&outputPath, "output", "", "write the final state as JSON to this file")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "initial state value key=value (repeatable; value parsed as YAML)")
	return cmd
}

// ─── resume ───────────────────────────────────────────────────────────────────

func resumeCmd() *cobra.Command {
	var (
		workdir       string
		defaultModel  string
		checkpointDir string
	)

	cmd := &cobra.Command{
		Use:   "resume <flow.yaml> <token> <reply>",
		Short: "Resume a suspended workflow with the requested input",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			docFile, token, reply := args[0], args[1], args[2]
			eng, err := buildEngine(docFile, workdir, defaultModel, checkpointDir)
			if err != nil {
				return err
			}
			ctx := signalContext(cmd.Context())
			out, err := eng.Resume(ctx, token, parseScalar(reply))
			if err != nil {
				return err
			}
			return printOutcome(out)
		},
	}

	cmd.Flags().StringVar(&workdir, "workdir", ".", "working directory for shell, code, and tool execution")
	cmd.Flags().StringVar(&defaultModel, "model", "", "default LLM model (provider:model-id), overrides the document")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "checkpoints", "directory the checkpoint was written to")
	return cmd
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint <flow.yaml>",
		Short: "Validate a workflow document without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			def, err := flow.Load(args[0])
			if err != nil {
				return err
			}
			issues := flow.Lint(def)
			hasErr := false
			for _, issue := range issues {
				fmt.Println(issue.String())
				if issue.Severity == flow.SeverityError {
					hasErr = true
				}
			}
			if hasErr {
				return fmt.Errorf("document %q has lint errors", args[0])
			}
			fmt.Printf("OK: workflow %q is valid (%d nodes, %d edges, %d warnings)\n",
				def.Name, len(def.Nodes), len(def.Edges), len(issues))
			return nil
		},
	}
	return cmd
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// buildEngine loads the document and wires the runtime collaborators: the
// provider factory, the built-in tool registry, and the checkpoint store.
func buildEngine(docFile, workdir, defaultModel, checkpointDir string) (*engine.Engine, error) {
	def, err := flow.Load(docFile)
	if err != nil {
		return nil, err
	}
	if defaultModel != "" {
		def.Defaults.Model = defaultModel
	}

	factory := llm.NewFactory()
	providers.RegisterAll(factory)

	plan, err := engine.Compile(def, engine.Options{
		Models:  factory,
		Tools:   tools.Default(workdir),
		BaseDir: filepath.Dir(docFile),
	})
	if err != nil {
		return nil, err
	}

	opts := []engine.EngineOption{}
	if checkpointDir != "" {
		opts = append(opts, engine.WithCheckpoints(engine.NewFileStore(checkpointDir)))
	}
	return engine.New(plan, opts...), nil
}

// parseSetFlags turns repeated key=value flags into an initial record.
// Values go through the YAML scalar parser so ints and bools keep their type.
func parseSetFlags(sets []string) (map[string]any, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	initial := make(map[string]any, len(sets))
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", kv)
		}
		initial[key] = parseScalar(value)
	}
	return initial, nil
}

func parseScalar(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}

// writeFinal persists the final state as JSON. An empty path is a no-op.
func writeFinal(path string, final map[string]any) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return fmt.Errorf("encode final state: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write final state: %w", err)
	}
	return nil
}

func printOutcome(out *engine.Outcome) error {
	switch out.Status {
	case engine.StatusSuspended:
		fmt.Fprintf(os.Stderr, "[loom] suspended at node %q awaiting input\n", out.Suspension.NodeID)
		fmt.Printf("prompt: %s\n", out.Suspension.Prompt)
		fmt.Printf("resume token: %s\n", out.Suspension.Token)
		return nil
	case engine.StatusFailed:
		return fmt.Errorf("workflow failed: %w", out.Err)
	}
	data, err := json.MarshalIndent(out.Final, "", "  ")
	if err != nil {
		return fmt.Errorf("encode final state: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[loom] interrupted — cancelling workflow")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
