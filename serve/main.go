// Command ghostlined is the ghostline daemon.
// It serves inline code completions to editors over a Unix domain socket or
// the Language Server Protocol, backed by a local Ollama model.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/backend"
	"github.com/Paranoid-AF/ghostline/lsp"
	"github.com/Paranoid-AF/ghostline/store"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "ghostlined",
	Short: "ghostline inline completion daemon",
	Long: `ghostlined serves inline code completions from a local Ollama model.

Without a subcommand it listens on a Unix domain socket. Use "lsp" to speak
the Language Server Protocol on stdio or a WebSocket instead.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for completion requests on a Unix domain socket",
	RunE:  runServe,
}

var lspListen string

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run as a language server on stdio, or on a WebSocket with --listen",
	RunE:  runLSP,
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete all stored suggestions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		viaDaemon, err := clearCache(ctx, resolveSocketPath(), func() error {
			storage, err := store.OpenSQLite(ghostline.ResolveStoragePath(cfg))
			if err != nil {
				return err
			}
			defer storage.Close()
			store.New(storage, store.Key(cfg.Storage.Workspace)).Clear()
			return nil
		})
		if err != nil {
			return err
		}
		if viaDaemon {
			fmt.Fprintln(cmd.OutOrStdout(), "suggestion cache cleared by running daemon")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "suggestion cache cleared")
		}
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models installed in the Ollama backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		models, err := backend.New(backendOptions(cfg)).ListModels(ctx)
		if err != nil {
			return err
		}
		return printModels(cmd, models, ghostline.ResolveModel(cfg))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "ghostlined", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests, responses and engine decisions")
	lspCmd.Flags().StringVar(&lspListen, "listen", "", "serve LSP over WebSocket on this address (e.g. :7777)")

	rootCmd.AddCommand(serveCmd, lspCmd, clearCacheCmd, modelsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*ghostline.Config, error) {
	cfg, err := ghostline.LoadConfig()
	if err != nil {
		return nil, err
	}
	for _, w := range ghostline.ValidateConfig(cfg) {
		slog.Warn("config warning", "warning", w)
	}
	return cfg, nil
}

// start loads the config and brings up the engine with persistent storage.
func start(ctx context.Context) (*daemon, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	storage, err := store.OpenSQLite(ghostline.ResolveStoragePath(cfg))
	if err != nil {
		return nil, nil, err
	}

	d := newDaemon(cfg, storage)
	go d.watch(ctx)
	go d.warmUp(ctx)

	return d, func() {
		d.Close()
		storage.Close()
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, cleanup, err := start(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	socketPath := resolveSocketPath()
	slog.Info("starting", "socket", socketPath, "version", Version)

	completer := &hostCompleter{host: d.host, model: d.client.Model}
	srv, err := NewServer(socketPath, completer, d.reload)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		srv.Close()
	}()

	slog.Info("ready")
	if err := srv.Serve(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runLSP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, cleanup, err := start(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	handler := lsp.NewHandler(d.host, Version)
	if lspListen == "" {
		return handler.RunStdio()
	}

	srv := &http.Server{Addr: lspListen, Handler: handler}
	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		srv.Close()
	}()

	slog.Info("lsp listening", "addr", lspListen, "version", Version)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func printModels(cmd *cobra.Command, models []backend.Model, current string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED\t")
	for _, m := range models {
		mark := ""
		if m.Name == current {
			mark = "*"
		}
		modified := "-"
		if !m.ModifiedAt.IsZero() {
			modified = m.ModifiedAt.Format(time.DateOnly)
		}
		fmt.Fprintf(w, "%s\t%.1f GB\t%s\t%s\n", m.Name, float64(m.Size)/1e9, modified, mark)
	}
	return w.Flush()
}

func resolveSocketPath() string {
	if path := os.Getenv("GHOSTLINE_SOCKET"); path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/ghostline.sock"
	}
	return fmt.Sprintf("/tmp/ghostline-%d.sock", os.Getuid())
}
