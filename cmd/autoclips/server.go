package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/CMarchell/autoclips/internal/api"
	"github.com/CMarchell/autoclips/internal/config"
	"github.com/CMarchell/autoclips/internal/ollama"
	"github.com/CMarchell/autoclips/internal/pipeline"
	"github.com/CMarchell/autoclips/internal/storage"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API and metrics, optionally the MCP tools on stdio",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), a, withMCP)
	}),
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve the MCP tools over stdin/stdout")
}

func runServer(parent context.Context, a *app, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "autoclips version %s\n", version)

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	if serverHealthy(parent, addr) {
		printWarning("autoclips is already running on port %d", a.cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", a.cfg.Server.Port)
	}

	ctx, stop := signalContext(parent)
	defer stop()

	// Attempts abandoned by crashed processes are closed in the background.
	interval := config.Duration("pipeline.liveness_threshold", a.cfg.Pipeline.LivenessThreshold, 15*time.Minute) / 2
	go runReconciler(ctx, a.orch, interval)

	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(a.reg),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Orchestrator: a.orch,
			Registry:     a.reg,
			Artifacts:    a.artifacts,
		}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "autoclips listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runReconciler calls Reconcile once at start and then every interval until
// ctx is done.
func runReconciler(ctx context.Context, o *pipeline.Orchestrator, interval time.Duration) {
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := o.Reconcile(ctx); err != nil {
			slog.Warn("reconcile failed", "error", err)
		} else if n > 0 {
			slog.Info("reconciled abandoned attempts", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func serverHealthy(ctx context.Context, addr string) bool {
	client := newAPIClient("http://" + addr)
	client.httpClient.Timeout = 2 * time.Second
	var body map[string]string
	resp, err := client.get(ctx, "/health")
	if err != nil {
		return false
	}
	return decodeJSON(resp, &body) == nil && body["status"] == "ok"
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the language model, ffmpeg, API keys and the server",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		pull, _ := cmd.Flags().GetBool("pull")
		w := cmd.OutOrStdout()
		problems := 0

		if a.hosted != nil {
			problems += checkHosted(ctx, w, a)
		} else {
			problems += checkOllama(ctx, w, a, pull)
		}

		if path, err := exec.LookPath(a.cfg.Render.FFmpegPath); err != nil {
			printStatus(w, "ffmpeg", "not found (%s)", a.cfg.Render.FFmpegPath)
			problems++
		} else {
			printStatus(w, "ffmpeg", "%s", path)
		}

		for _, key := range []struct{ name, value string }{
			{"PEXELS_API_KEY", a.cfg.Pexels.APIKey},
			{"ELEVENLABS_API_KEY", a.cfg.ElevenLabs.APIKey},
		} {
			if key.value == "" {
				printStatus(w, key.name, "unset")
				problems++
			} else {
				printStatus(w, key.name, "set")
			}
		}

		addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
		if serverHealthy(ctx, addr) {
			printStatus(w, "Server", "running on port %d", a.cfg.Server.Port)
		} else {
			printStatus(w, "Server", "stopped")
		}

		if counts, err := a.reg.Counts(ctx); err == nil {
			for _, s := range []storage.Status{storage.StatusDraft, storage.StatusPreview, storage.StatusApproved, storage.StatusFailed} {
				printStatus(w, "Projects "+string(s), "%d", counts[s])
			}
		}
		printStatus(w, "Data dir", "%s", a.cfg.Storage.DataDir)

		if problems > 0 {
			return fmt.Errorf("%d problems found", problems)
		}
		printSuccess("Ready")
		return nil
	}),
}

func checkOllama(ctx context.Context, w io.Writer, a *app, pull bool) int {
	if pull {
		if err := ollama.EnsureReady(ctx, a.ollama, a.cfg.Ollama.Model, w); err != nil {
			printError("%v", err)
			return 1
		}
		return 0
	}
	switch {
	case !a.ollama.IsRunning(ctx):
		printStatus(w, "Ollama", "not running at %s", a.cfg.Ollama.BaseURL)
		return 1
	case !a.ollama.HasModel(ctx, a.cfg.Ollama.Model):
		printStatus(w, "Ollama", "running, model %s missing (run doctor --pull)", a.cfg.Ollama.Model)
		return 1
	}
	printStatus(w, "Ollama", "running at %s with %s", a.cfg.Ollama.BaseURL, a.cfg.Ollama.Model)
	return 0
}

func checkHosted(ctx context.Context, w io.Writer, a *app) int {
	label := "LLM " + a.cfg.LLM.Provider
	if a.cfg.OpenAI.APIKey == "" {
		printStatus(w, label, "OPENAI_API_KEY unset")
		return 1
	}
	models, err := a.hosted.ListModels(ctx)
	if err != nil {
		printStatus(w, label, "unreachable: %v", err)
		return 1
	}
	for _, m := range models {
		if m.ID == a.cfg.OpenAI.Model {
			printStatus(w, label, "model %s available", m.ID)
			return 0
		}
	}
	printStatus(w, label, "model %s not listed (%d models)", a.cfg.OpenAI.Model, len(models))
	return 1
}

func init() {
	doctorCmd.Flags().Bool("pull", false, "pull and warm up the Ollama model when missing")
}
