package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/itsnoxius/mockgate/internal/forwarder"
	"github.com/itsnoxius/mockgate/internal/headers"
	"github.com/itsnoxius/mockgate/internal/observe"
	"github.com/itsnoxius/mockgate/internal/registry"
	"github.com/itsnoxius/mockgate/internal/routing"
	"github.com/itsnoxius/mockgate/pkg/models"
)

// ErrNotFound is reported to clients whose path matches no routable domain
var ErrNotFound = errors.New("no mapping domain matches path")

// DefaultMaxBodyBytes caps the request body read into memory
const DefaultMaxBodyBytes int64 = 10 << 20

// Snapshots supplies the configuration each request is routed against
type Snapshots interface {
	Current() *registry.Snapshot
	Loaded() bool
}

// Recorder accepts request outcomes for asynchronous logging
type Recorder interface {
	Record(ev observe.Event) bool
}

// Proxy routes every request through resolve, decide, act and observe
type Proxy struct {
	snapshots Snapshots
	forwarder *forwarder.Forwarder
	recorder  Recorder
	logger    *zap.Logger
	maxBody   int64
}

// Option configures a Proxy
type Option func(*Proxy)

// WithMaxBodyBytes limits how much of a request body is accepted. Larger
// bodies are rejected with 413. Zero or less keeps the default.
func WithMaxBodyBytes(n int64) Option {
	return func(p *Proxy) {
		if n > 0 {
			p.maxBody = n
		}
	}
}

// New creates a new proxy instance
func New(snapshots Snapshots, fwd *forwarder.Forwarder, recorder Recorder, logger *zap.Logger, opts ...Option) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Proxy{
		snapshots: snapshots,
		forwarder: fwd,
		recorder:  recorder,
		logger:    logger.With(zap.String("component", "proxy")),
		maxBody:   DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ErrorResponse is the body of client-facing routing errors
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

type outcome struct {
	status int
	header http.Header
	body   []byte
}

// ServeHTTP serves a mock, forwards upstream, or rejects the request
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			p.logger.Warn("request body too large",
				zap.String("path", r.URL.Path),
				zap.Int64("limit", tooLarge.Limit))
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Message: "request body too large", Path: r.URL.Path})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "failed to read request body", Path: r.URL.Path})
		return
	}

	snap := p.snapshots.Current()
	domain, ok := routing.Resolve(r.URL.Path, snap.Domains)
	if !ok {
		msg := ErrNotFound.Error()
		if !p.snapshots.Loaded() {
			msg = registry.ErrConfigUnavailable.Error()
		}
		p.logger.Debug("unmatched request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: msg, Path: r.URL.Path})
		return
	}

	rel := routing.RelativePath(domain, r.URL.Path)
	decision := routing.Decide(domain, rel, r.Method, snap.Mocks(domain.ID))

	p.logger.Debug("routing request",
		zap.Int64("domain_id", domain.ID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("relative", rel),
		zap.Stringer("decision", decision.Kind))

	var out outcome
	switch decision.Kind {
	case routing.ServeMock:
		// a cancelled delay still answers so the attempt is logged
		_ = routing.Delay(r.Context(), decision.Mock)
		out = mockOutcome(decision.Mock)
	default:
		up := p.forwarder.Forward(r.Context(), domain, forwarder.Request{
			Method:       r.Method,
			RelativePath: rel,
			RawQuery:     r.URL.RawQuery,
			Header:       r.Header,
			Body:         body,
		})
		out = outcome{status: up.StatusCode, header: up.Header, body: up.Body}
	}

	relayed := headers.Relay(out.header)
	for k, v := range relayed {
		w.Header()[k] = v
	}
	w.WriteHeader(out.status)
	if _, err := w.Write(out.body); err != nil {
		p.logger.Debug("failed to write response", zap.String("path", r.URL.Path), zap.Error(err))
	}

	if p.recorder != nil {
		p.recorder.Record(observe.Event{
			DomainID:       domain.ID,
			Method:         r.Method,
			URL:            forwarder.TargetURL(domain.ForwardDomain, rel),
			RawQuery:       r.URL.RawQuery,
			Header:         r.Header.Clone(),
			Body:           body,
			Status:         out.status,
			ResponseHeader: relayed,
			ResponseBody:   out.body,
			Duration:       time.Since(start),
		})
	}
}

func mockOutcome(m *models.MockResponse) outcome {
	status := m.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	h := make(http.Header, len(m.Headers)+1)
	for k, v := range m.Headers {
		h.Set(k, v)
	}

	payload, isJSON := m.Payload()
	if h.Get("Content-Type") == "" && len(payload) > 0 {
		if isJSON {
			h.Set("Content-Type", "application/json")
		} else {
			h.Set("Content-Type", "text/plain; charset=utf-8")
		}
	}

	return outcome{status: status, header: h, body: payload}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// HealthCheck handles health check requests
func (p *Proxy) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Success:   true,
		Message:   "mockgate is running",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
