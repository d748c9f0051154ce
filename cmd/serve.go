package main

import (
	"context"
	"encoding/json"
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

	"github.com/sells-group/docflow/internal/bus"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/registry"
	"github.com/sells-group/docflow/internal/resilience"
	"github.com/sells-group/docflow/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API: document intake, service webhooks, execution status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		reg, err := loadRegistry(cfg)
		if err != nil {
			return err
		}

		b, err := connectBus(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		api := &apiServer{store: st, bus: b, registry: reg}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// publisher is the bus surface the API needs; narrowed for tests.
type publisher interface {
	Publish(ctx context.Context, subject string, evt any) error
}

type apiServer struct {
	store    store.Store
	bus      publisher
	registry *registry.Registry
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/documents", s.handleSubmitDocument)
	r.Post("/webhooks/extraction", s.handleExtractionWebhook)
	r.Post("/webhooks/review", s.handleReviewWebhook)
	r.Get("/executions", s.handleListExecutions)
	r.Get("/executions/{id}", s.handleGetExecution)
	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmitDocument accepts a document for processing and publishes the
// arrival event. The pipeline itself runs asynchronously off the bus.
func (s *apiServer) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceURI   string `json:"source_uri"`
		BlueprintID string `json:"blueprint_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceURI == "" || req.BlueprintID == "" {
		writeError(w, http.StatusBadRequest, "source_uri and blueprint_id are required")
		return
	}
	if _, ok := s.registry.Get(req.BlueprintID); !ok {
		writeError(w, http.StatusUnprocessableEntity, "unknown blueprint_id")
		return
	}

	evt := bus.DocumentArrived{
		SourceURI:   req.SourceURI,
		BlueprintID: req.BlueprintID,
		ReceivedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.publish(r.Context(), bus.SubjectDocumentArrived, evt); err != nil {
		zap.L().Error("publish arrival failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "could not enqueue document")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"document_id": model.DocumentIDFromSource(req.SourceURI),
	})
}

// handleExtractionWebhook receives the extraction service's completion
// callback and forwards it onto the bus.
func (s *apiServer) handleExtractionWebhook(w http.ResponseWriter, r *http.Request) {
	var evt bus.ExtractionCompleted
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if evt.ExecutionID == "" || evt.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id and execution_id are required")
		return
	}

	if err := s.publish(r.Context(), bus.SubjectExtractionCompleted, evt); err != nil {
		zap.L().Error("publish extraction completion failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "could not enqueue event")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleReviewWebhook receives the review service's completion callback.
func (s *apiServer) handleReviewWebhook(w http.ResponseWriter, r *http.Request) {
	var evt bus.ReviewCompleted
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if evt.ExecutionID == "" || evt.DocumentID == "" || evt.TaskID == "" {
		writeError(w, http.StatusBadRequest, "document_id, execution_id and task_id are required")
		return
	}

	if err := s.publish(r.Context(), bus.SubjectReviewCompleted, evt); err != nil {
		zap.L().Error("publish review completion failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "could not enqueue event")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *apiServer) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionFilter{
		DocumentID: r.URL.Query().Get("document_id"),
		State:      model.ExecutionState(r.URL.Query().Get("state")),
	}
	execs, err := s.store.ListExecutions(r.Context(), filter)
	if err != nil {
		zap.L().Error("list executions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (s *apiServer) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	exec, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}

	resp := map[string]any{"execution": exec}
	if exec.State == model.StateCompleted {
		body, err := s.store.Get(r.Context(), store.AggregatedResultPath(id))
		if err == nil && body != nil {
			resp["result"] = json.RawMessage(body)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// publish retries transient bus failures so a webhook caller sees fewer 503s.
func (s *apiServer) publish(ctx context.Context, subject string, evt any) error {
	policy := resilience.DefaultPolicy()
	policy.MaxBackoff = 2 * time.Second
	policy.ShouldRetry = func(error) bool { return true }
	policy.OnRetry = resilience.RetryLogger("nats", "publish")
	return resilience.Retry(ctx, policy, func(ctx context.Context) error {
		return s.bus.Publish(ctx, subject, evt)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
