package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/minting/recovery"
)

// Recoverer triggers recoveries.
type Recoverer interface {
	Recover(ctx context.Context) (*recovery.Result, error)
	ManualRecovery(ctx context.Context, from, to uint64) (*recovery.Result, error)
}

// ProofSink accepts late proof submissions.
type ProofSink interface {
	SubmitProof(ctx context.Context, attemptID string, proofData []byte) error
}

// maxProofSize bounds accepted proof payloads.
const maxProofSize = 1 << 20

// Server provides HTTP endpoints for health monitoring and operations.
type Server struct {
	monitor   *Monitor
	recoverer Recoverer
	proofs    ProofSink
	logger    *slog.Logger
	server    *http.Server
}

// NewServer creates a new health server. recoverer and proofs may be nil, in
// which case their endpoints are not registered.
func NewServer(monitor *Monitor, recoverer Recoverer, proofs ProofSink, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		monitor:   monitor,
		recoverer: recoverer,
		proofs:    proofs,
		logger:    logger.With("component", "http"),
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /admin/stats", s.handleDetailed)
	if recoverer != nil {
		mux.HandleFunc("POST /admin/recover", s.handleRecover)
	}
	if proofs != nil {
		mux.HandleFunc("POST /admin/attempts/{id}/proof", s.handleProof)
	}

	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. It returns nil after Stop.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	code := http.StatusOK
	if report.Status == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(report.Status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

// handleRecover runs a recovery. With from and to query parameters it scans
// that range; otherwise it resumes from the checkpoint.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fromStr, toStr := q.Get("from"), q.Get("to")

	var (
		res *recovery.Result
		err error
	)
	switch {
	case fromStr == "" && toStr == "":
		res, err = s.recoverer.Recover(r.Context())
	case fromStr == "" || toStr == "":
		writeError(w, http.StatusBadRequest, errors.New("both from and to are required"))
		return
	default:
		from, ferr := strconv.ParseUint(fromStr, 10, 64)
		to, terr := strconv.ParseUint(toStr, 10, 64)
		if ferr != nil || terr != nil {
			writeError(w, http.StatusBadRequest, errors.New("from and to must be block numbers"))
			return
		}
		res, err = s.recoverer.ManualRecovery(r.Context(), from, to)
	}

	switch {
	case errors.Is(err, domain.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.logger.Error("recovery request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	case res.Skipped:
		writeJSON(w, http.StatusConflict, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := io.ReadAll(io.LimitReader(r.Body, maxProofSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(data) > maxProofSize {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("proof too large"))
		return
	}

	err = s.proofs.SubmitProof(r.Context(), id, data)
	switch {
	case errors.Is(err, domain.ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"attempt_id": id})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
