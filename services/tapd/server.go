package tapd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"indexerservice/crypto"
	"indexerservice/gateway/middleware"
	"indexerservice/tap"
)

// ReceiptHeader carries a JSON signed receipt alongside a paid query.
const ReceiptHeader = "Scalar-Receipt"

const maxReceiptBytes = 16 << 10

// Admitter admits signed receipts.
type Admitter interface {
	VerifyAndStoreReceipt(ctx context.Context, receipt tap.SignedReceipt) error
}

// Server exposes the receipt admission API.
type Server struct {
	router   chi.Router
	admitter Admitter
	logger   *slog.Logger
	health   func(context.Context) error
	limiter  *middleware.RateLimiter
	obs      *middleware.Observability
	metrics  http.Handler
}

// ServerOption customises the server instance.
type ServerOption func(*Server)

// WithServerLogger overrides the default logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithHealthCheck sets the check backing GET /healthz.
func WithHealthCheck(check func(context.Context) error) ServerOption {
	return func(s *Server) { s.health = check }
}

// WithRateLimiter limits POST /receipts per client.
func WithRateLimiter(limiter *middleware.RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = limiter }
}

// WithObservability traces and counts every request.
func WithObservability(obs *middleware.Observability) ServerOption {
	return func(s *Server) { s.obs = obs }
}

// WithMetricsHandler overrides the handler mounted on GET /metrics.
func WithMetricsHandler(handler http.Handler) ServerOption {
	return func(s *Server) { s.metrics = handler }
}

// NewServer builds the router.
func NewServer(admitter Admitter, opts ...ServerOption) *Server {
	s := &Server{
		admitter: admitter,
		logger:   slog.Default(),
		health:   func(context.Context) error { return nil },
		metrics:  promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	if s.obs != nil {
		r.Use(s.obs.Handler)
	}
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics)
	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Handler)
		}
		r.Post("/receipts", s.handleReceipt)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

const kindMalformed = "malformed_receipt"

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	payload, err := readReceiptPayload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: kindMalformed})
		return
	}
	receipt, err := tap.DecodeSignedReceipt(payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: malformedMessage(err), Kind: kindMalformed})
		return
	}

	if err := s.admitter.VerifyAndStoreReceipt(r.Context(), receipt); err != nil {
		kind, ok := tap.KindOf(err)
		if !ok {
			s.logger.Error("unclassified admission failure", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Kind: string(tap.KindPersistence)})
			return
		}
		writeJSON(w, statusForKind(kind), errorResponse{Error: err.Error(), Kind: string(kind)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func readReceiptPayload(r *http.Request) ([]byte, error) {
	if header := strings.TrimSpace(r.Header.Get(ReceiptHeader)); header != "" {
		return []byte(header), nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReceiptBytes+1))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	if len(body) > maxReceiptBytes {
		return nil, errors.New("receipt too large")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, errors.New("receipt required in body or " + ReceiptHeader + " header")
	}
	return body, nil
}

func malformedMessage(err error) string {
	if errors.Is(err, crypto.ErrInvalidSignature) {
		return "invalid receipt signature encoding"
	}
	return "malformed receipt"
}

func statusForKind(kind tap.Kind) int {
	switch kind {
	case tap.KindSignatureRecovery:
		return http.StatusBadRequest
	case tap.KindAllocationIneligible:
		return http.StatusForbidden
	case tap.KindSenderIneligible:
		return http.StatusPaymentRequired
	case tap.KindDuplicateReceipt:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.health(ctx); err != nil {
		s.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
