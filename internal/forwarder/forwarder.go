package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/itsnoxius/mockgate/internal/headers"
	"github.com/itsnoxius/mockgate/pkg/models"
)

// MaxRedirects bounds how many redirects an upstream call follows
const MaxRedirects = 5

// Request is the inbound request data needed to build the upstream call
type Request struct {
	Method       string
	RelativePath string
	RawQuery     string
	Header       http.Header
	Body         []byte
}

// Response is the upstream answer, or a synthetic 500 when the call failed
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// URL and OutboundHeader describe the call that was attempted
	URL            string
	OutboundHeader http.Header
	Err            error
}

// Forwarder executes single-attempt upstream calls
type Forwarder struct {
	client *http.Client
	logger *zap.Logger
}

// New creates a forwarder whose calls are capped at timeout
func New(timeout time.Duration, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		client: &http.Client{
			Timeout:   timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > MaxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		logger: logger.With(zap.String("component", "forwarder")),
	}
}

// TargetURL joins the upstream origin and the relative path with exactly one slash
func TargetURL(forwardDomain, relativePath string) string {
	return strings.TrimRight(forwardDomain, "/") + "/" + strings.TrimLeft(relativePath, "/")
}

// OutboundHeader sanitizes the inbound headers for the upstream call and
// defaults the content type to JSON when a body is sent without one.
func OutboundHeader(in http.Header, hasBody bool) http.Header {
	h := headers.Outbound(in)
	if hasBody && h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	return h
}

// Forward performs the upstream call. Any HTTP status is a valid response;
// transport failures produce a synthetic 500 carrying the error message.
func (f *Forwarder) Forward(ctx context.Context, domain *models.MappingDomain, req Request) *Response {
	target := TargetURL(domain.ForwardDomain, req.RelativePath)
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}
	out := OutboundHeader(req.Header, len(req.Body) > 0)

	resp := &Response{URL: target, OutboundHeader: out}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return failed(resp, fmt.Errorf("building upstream request: %w", err))
	}
	upReq.Header = out

	f.logger.Debug("forwarding request",
		zap.Int64("domain_id", domain.ID),
		zap.String("method", req.Method),
		zap.String("url", target))

	upResp, err := f.client.Do(upReq)
	if err != nil {
		f.logger.Warn("upstream call failed",
			zap.Int64("domain_id", domain.ID),
			zap.String("url", target),
			zap.Error(err))
		return failed(resp, err)
	}
	defer func() { _ = upResp.Body.Close() }()

	data, err := io.ReadAll(upResp.Body)
	if err != nil {
		return failed(resp, fmt.Errorf("reading upstream response: %w", err))
	}

	resp.StatusCode = upResp.StatusCode
	resp.Header = upResp.Header.Clone()
	resp.Body = data
	return resp
}

func failed(resp *Response, err error) *Response {
	var ue interface{ Timeout() bool }
	if errors.As(err, &ue) && ue.Timeout() {
		err = fmt.Errorf("upstream timeout: %w", err)
	}
	resp.StatusCode = http.StatusInternalServerError
	resp.Header = http.Header{"Content-Type": {"text/plain; charset=utf-8"}}
	resp.Body = []byte(err.Error())
	resp.Err = err
	return resp
}
