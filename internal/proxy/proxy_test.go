package proxy

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsnoxius/mockgate/internal/forwarder"
	"github.com/itsnoxius/mockgate/internal/observe"
	"github.com/itsnoxius/mockgate/internal/registry"
	"github.com/itsnoxius/mockgate/pkg/models"
)

type staticSource struct {
	domains []models.MappingDomain
}

func (s *staticSource) Load(context.Context) ([]models.MappingDomain, error) {
	return s.domains, nil
}

func (s *staticSource) String() string { return "static" }

type captureRecorder struct {
	mu     sync.Mutex
	events []observe.Event
}

func (c *captureRecorder) Record(ev observe.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}

func (c *captureRecorder) all() []observe.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]observe.Event(nil), c.events...)
}

func newProxy(t *testing.T, domains ...models.MappingDomain) (*Proxy, *captureRecorder) {
	t.Helper()
	reg := registry.New(&staticSource{domains: domains}, nil)
	require.NoError(t, reg.Refresh(context.Background()))
	rec := &captureRecorder{}
	return New(reg, forwarder.New(2*time.Second, nil), rec, nil), rec
}

func billingDomain(upstream string) models.MappingDomain {
	return models.MappingDomain{
		ID:            1,
		Path:          "/billing",
		ForwardDomain: upstream,
		State:         models.DomainActive,
		ForwardState:  models.ForwardAll,
	}
}

func TestForwardsAndMirrorsUpstream(t *testing.T) {
	var gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		w.Header().Set("Content-Encoding", "br")
		w.Header().Set("X-Upstream", "1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "queued")
	}))
	defer upstream.Close()

	p, rec := newProxy(t, billingDomain(upstream.URL))

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/billing/invoices?page=2", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "queued", w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Upstream"))
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "/invoices", gotPath)
	assert.Equal(t, "page=2", gotQuery)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].DomainID)
	assert.Equal(t, http.StatusAccepted, events[0].Status)
	assert.Equal(t, upstream.URL+"/invoices", events[0].URL)
	assert.Equal(t, "page=2", events[0].RawQuery)
}

func TestForwardDecodesCompressedUpstream(t *testing.T) {
	var gotEncoding string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Type", "application/json")
		if !strings.Contains(gotEncoding, "gzip") {
			_, _ = io.WriteString(w, `{"plain":true}`)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = io.WriteString(gz, `{"ok":true}`)
		_ = gz.Close()
	}))
	defer upstream.Close()

	p, rec := newProxy(t, billingDomain(upstream.URL))

	req := httptest.NewRequest(http.MethodGet, "/billing/invoices", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	// the transport negotiates gzip itself and hands back the decoded body
	assert.Equal(t, "gzip", gotEncoding)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	events := rec.all()
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"ok":true}`, string(events[0].ResponseBody))
}

func TestRejectsOversizedBody(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	reg := registry.New(&staticSource{domains: []models.MappingDomain{billingDomain(upstream.URL)}}, nil)
	require.NoError(t, reg.Refresh(context.Background()))
	rec := &captureRecorder{}
	p := New(reg, forwarder.New(2*time.Second, nil), rec, nil, WithMaxBodyBytes(8))

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/billing/invoices", strings.NewReader(`{"too":"large"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, hits.Load())
	assert.Empty(t, rec.all())

	w = httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/billing/invoices", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), hits.Load())
}

func TestServesActiveMockWithoutUpstream(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	d := billingDomain(upstream.URL)
	d.MockResponses = []models.MockResponse{{
		ID:         10,
		Path:       "invoices",
		Method:     "GET",
		StatusCode: 200,
		Body:       json.RawMessage(`{"ok":true}`),
		State:      models.MockActive,
		CreatedAt:  time.Now(),
	}}
	p, rec := newProxy(t, d)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/billing/invoices", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, int32(0), hits.Load())
	require.Len(t, rec.all(), 1)
	assert.Equal(t, 200, rec.all()[0].Status)
}

func TestNewerInactiveMockPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	now := time.Now()
	d := billingDomain(upstream.URL)
	d.MockResponses = []models.MockResponse{
		{ID: 1, Path: "/invoices", Method: "GET", StatusCode: 200, State: models.MockActive, CreatedAt: now.Add(-time.Hour)},
		{ID: 2, Path: "invoices", Method: "GET", StatusCode: 201, State: models.MockDisable, CreatedAt: now},
	}
	p, _ := newProxy(t, d)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/billing/invoices", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestMockHeadersAndTextBody(t *testing.T) {
	d := billingDomain("http://127.0.0.1:1")
	d.MockResponses = []models.MockResponse{{
		Path:       "ping",
		Method:     "POST",
		StatusCode: 418,
		Headers:    models.Headers{"x-mock": "yes", "Content-Encoding": "gzip"},
		Body:       json.RawMessage(`"pong"`),
		State:      models.MockActive,
	}}
	p, _ := newProxy(t, d)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/billing/ping", strings.NewReader("{}")))

	assert.Equal(t, 418, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.Equal(t, "yes", w.Header().Get("X-Mock"))
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestUnmatchedIsNotLogged(t *testing.T) {
	none := billingDomain("http://127.0.0.1:1")
	none.ID = 2
	none.Path = "/legacy"
	none.ForwardState = models.ForwardNone
	p, rec := newProxy(t, billingDomain("http://127.0.0.1:1"), none)

	for _, path := range []string{"/shipping/x", "/legacy", "/legacy/x"} {
		w := httptest.NewRecorder()
		p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusNotFound, w.Code, path)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, path, resp.Path)
		assert.Equal(t, ErrNotFound.Error(), resp.Message)
	}
	assert.Empty(t, rec.all())
}

func TestNotLoadedReportsConfigUnavailable(t *testing.T) {
	reg := registry.New(&staticSource{}, nil)
	p := New(reg, forwarder.New(time.Second, nil), &captureRecorder{}, nil)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/billing/x", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), registry.ErrConfigUnavailable.Error())
}

func TestForwardFailureIsLogged(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := upstream.URL
	upstream.Close()

	p, rec := newProxy(t, billingDomain(addr))

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/billing/invoices", strings.NewReader(`{"a":1}`)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Body.String())

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, http.StatusInternalServerError, events[0].Status)
	assert.Equal(t, `{"a":1}`, string(events[0].Body))
}

func TestHealthCheck(t *testing.T) {
	p, rec := newProxy(t)

	w := httptest.NewRecorder()
	p.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	_, err := time.Parse(time.RFC3339, resp.Timestamp)
	assert.NoError(t, err)
	assert.Empty(t, rec.all())
}
