package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/costscan-cli/internal/config"
	"github.com/sells-group/costscan-cli/internal/investigate"
	"github.com/sells-group/costscan-cli/internal/target"
)

// maxBodyBytes bounds request bodies; investigation requests are tiny.
const maxBodyBytes = 256 << 10

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the investigation HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e := newEnv()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(e.coordinator, cfg),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter wires the HTTP surface. Split out so handler tests can exercise
// it without binding a port.
func newRouter(c *investigate.Coordinator, cfg *config.Config) http.Handler {
	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
			next.ServeHTTP(w, req)
		})
	})

	s := &server{coordinator: c, cfg: cfg}
	r.Get("/api/health", s.handleHealth)
	r.Post("/api/investigate", s.handleInvestigate)
	r.Post("/api/investigate/async", s.handleStart)
	r.Post("/api/investigate/async/poll", s.handlePoll)
	r.Post("/api/investigate/stream", s.handleStream)
	return r
}

type server struct {
	coordinator *investigate.Coordinator
	cfg         *config.Config
}

type investigateRequest struct {
	URL string `json:"url"`
}

type pollRequest struct {
	RunIDs investigate.RunIDs `json:"runIds"`
	Domain string             `json:"domain"`
	Name   string             `json:"name"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	missing := s.cfg.MissingRuntimeEnv()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"envReady":   len(missing) == 0,
		"missingEnv": missing,
	})
}

func (s *server) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTarget(w, r)
	if !ok {
		return
	}

	rep, err := s.coordinator.Run(r.Context(), req, nil)
	if err != nil {
		zap.L().Error("investigation failed", zap.String("domain", req.Domain), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "investigation failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTarget(w, r)
	if !ok {
		return
	}

	ids, err := s.coordinator.Start(r.Context(), req)
	if err != nil {
		zap.L().Error("async start failed", zap.String("domain", req.Domain), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not submit background runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runIds": ids,
		"domain": req.Domain,
		"name":   req.Name,
	})
}

func (s *server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if !s.checkEnv(w) {
		return
	}
	var body pollRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	req := target.Request{URL: "https://" + body.Domain, Domain: body.Domain, Name: body.Name}
	if req.Name == "" {
		req.Name = body.Domain
	}

	outcome, err := s.coordinator.Poll(r.Context(), req, body.RunIDs)
	if err != nil {
		zap.L().Error("poll failed", zap.String("domain", req.Domain), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "poll failed")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// handleStream runs a synchronous investigation while emitting progress over
// SSE, with a periodic heartbeat and a hard stream deadline.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTarget(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.Duration(s.cfg.Server.HeartbeatSecs) * time.Second
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	streamTimeout := time.Duration(s.cfg.Server.StreamTimeoutSecs) * time.Second
	if streamTimeout <= 0 {
		streamTimeout = 120 * time.Second
	}

	events := make(chan investigate.ProgressEvent, 16)
	type outcome struct {
		rep any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		rep, err := s.coordinator.Run(r.Context(), req, func(ev investigate.ProgressEvent) {
			select {
			case events <- ev:
			default: // Never block the investigation on a slow consumer.
			}
		})
		done <- outcome{rep: rep, err: err}
	}()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	deadline := time.NewTimer(streamTimeout)
	defer deadline.Stop()

	last := investigate.ProgressEvent{Stage: "init", Progress: 5, Message: "Starting investigation"}
	for {
		select {
		case ev := <-events:
			last = ev
			writeSSE(w, flusher, "progress", ev)
		case <-ticker.C:
			hb := last
			hb.Message = last.Message + " (still running)"
			writeSSE(w, flusher, "progress", hb)
		case out := <-done:
			// Flush any progress still queued before the terminal event.
			for {
				select {
				case ev := <-events:
					writeSSE(w, flusher, "progress", ev)
					continue
				default:
				}
				break
			}
			if out.err != nil {
				writeSSE(w, flusher, "error", map[string]string{"error": "investigation failed"})
				return
			}
			writeSSE(w, flusher, "result", out.rep)
			return
		case <-deadline.C:
			writeSSE(w, flusher, "error", map[string]string{"error": "stream deadline exceeded"})
			return
		case <-r.Context().Done():
			return
		}
	}
}

// decodeTarget parses and validates the request body's target URL, writing
// the error response itself when validation or the env check fails.
func (s *server) decodeTarget(w http.ResponseWriter, r *http.Request) (target.Request, bool) {
	if !s.checkEnv(w) {
		return target.Request{}, false
	}
	var body investigateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return target.Request{}, false
	}
	req, err := target.Normalize(body.URL)
	if err != nil {
		if target.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, "could not process URL")
		}
		return target.Request{}, false
	}
	return req, true
}

// checkEnv rejects the request when required credentials are unset. Fatal to
// the request, not to the process.
func (s *server) checkEnv(w http.ResponseWriter) bool {
	err := s.cfg.CheckRuntimeEnv()
	if err == nil {
		return true
	}
	var missingErr *config.MissingEnvError
	resp := map[string]any{"error": err.Error()}
	if errors.As(err, &missingErr) {
		resp["missingEnv"] = missingErr.Missing
	}
	writeJSON(w, http.StatusBadRequest, resp)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
