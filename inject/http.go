package inject

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/propagation"

	ferrors "github.com/vinayprograms/failsafe/errors"
	"github.com/vinayprograms/failsafe/logging"
	"github.com/vinayprograms/failsafe/telemetry"
)

// DefaultMaxBodyBytes bounds POST /command bodies.
const DefaultMaxBodyBytes = 64 << 10

// HTTPConfig configures the operator HTTP API.
type HTTPConfig struct {
	// MaxBodyBytes bounds request bodies.
	// Default: 64 KiB
	MaxBodyBytes int64

	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	Logger *logging.Logger
}

type httpAPI struct {
	dispatcher Dispatcher
	maxBody    int64
	logger     *logging.Logger
}

// NewHTTPHandler returns the operator API:
//
//	POST /command   base64(JSON CommandRequest), answers with a DispatchResult
//	GET  /clients   registered client IDs
//	GET  /healthz   liveness
//	GET  /metrics   Prometheus exposition, when a Gatherer is set
func NewHTTPHandler(d Dispatcher, cfg HTTPConfig) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New()
	}

	api := &httpAPI{
		dispatcher: d,
		maxBody:    cfg.MaxBodyBytes,
		logger:     logger.WithComponent("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(traceMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/clients", api.listClients)
	r.Post("/command", api.sendCommand)
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// traceMiddleware continues a caller's trace so dispatch spans join it.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := telemetry.ExtractContext(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *httpAPI) listClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.dispatcher.Clients())
}

func (a *httpAPI) sendCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
	if err != nil {
		a.writeError(w, ferrors.WrapWithCode(err, ferrors.ErrCodeInvalidInput, "read request body"))
		return
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		a.writeError(w, ferrors.WrapWithCode(err, ferrors.ErrCodeInvalidInput, "body is not base64"))
		return
	}

	req, err := ParseRequest(raw)
	if err != nil {
		a.writeError(w, err)
		return
	}

	result, err := Dispatch(r.Context(), a.dispatcher, req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *httpAPI) writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	fields := map[string]interface{}{
		"status": status,
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("command request failed", fields)
	} else {
		a.logger.Warn("command request rejected", fields)
	}
	writeJSON(w, status, Reply{Error: asError(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
