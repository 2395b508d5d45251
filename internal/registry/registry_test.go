package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/itsnoxius/mockgate/internal/configclient"
	"github.com/itsnoxius/mockgate/pkg/models"
)

type stubSource struct {
	mu      sync.Mutex
	domains []models.MappingDomain
	err     error
	calls   int
}

func (s *stubSource) Load(context.Context) ([]models.MappingDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.domains, nil
}

func (s *stubSource) String() string { return "stub" }

func (s *stubSource) set(domains []models.MappingDomain, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains = domains
	s.err = err
}

func billing() models.MappingDomain {
	return models.MappingDomain{
		ID:            1,
		Path:          "/billing",
		ForwardDomain: "https://up.example",
		State:         models.DomainActive,
		ForwardState:  models.ForwardAll,
		MockResponses: []models.MockResponse{{ID: 10, Path: "invoices", Method: "GET", State: models.MockActive}},
		MockGroups:    []models.MockGroup{{ID: 5, Name: "happy path", MockResponseIDs: []int64{10}}},
	}
}

func TestCurrentIsEmptyBeforeFirstLoad(t *testing.T) {
	r := New(&stubSource{err: errors.New("down")}, zap.NewNop())

	snap := r.Current()
	require.NotNil(t, snap)
	assert.Empty(t, snap.Domains)
	assert.False(t, r.Loaded())

	require.Error(t, r.Refresh(context.Background()))
	assert.Same(t, snap, r.Current())
}

func TestRefreshSwapsOnSuccessOnly(t *testing.T) {
	src := &stubSource{domains: []models.MappingDomain{billing()}}
	r := New(src, zap.NewNop())

	require.NoError(t, r.Refresh(context.Background()))
	first := r.Current()
	assert.Equal(t, uint64(1), first.Version)
	require.Len(t, first.Domains, 1)
	assert.Len(t, first.Mocks(1), 1)
	assert.Equal(t, int64(1), first.Mocks(1)[0].DomainID)
	g, ok := first.Group(1, 5)
	require.True(t, ok)
	assert.Equal(t, "happy path", g.Name)

	src.set(nil, errors.New("network blip"))
	require.Error(t, r.Refresh(context.Background()))
	assert.Same(t, first, r.Current())

	st := r.Stats()
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Contains(t, st.LastError, "network blip")
	assert.Equal(t, 1, st.Domains)

	src.set([]models.MappingDomain{}, nil)
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, uint64(3), r.Current().Version)
	assert.Empty(t, r.Current().Domains)
	assert.Equal(t, 0, r.Stats().ConsecutiveFailures)
}

func TestSnapshotDropsDuplicateActivePaths(t *testing.T) {
	a := billing()
	b := billing()
	b.ID = 2
	c := billing()
	c.ID = 3
	c.State = models.DomainInActive

	snap := NewSnapshot(1, []models.MappingDomain{a, b, c}, nil)
	require.Len(t, snap.Domains, 2)
	assert.Equal(t, int64(1), snap.Domains[0].ID)
	assert.Equal(t, int64(3), snap.Domains[1].ID)
	_, ok := snap.Domain(2)
	assert.False(t, ok)
}

func TestConcurrentReadersNeverSeeTornSnapshot(t *testing.T) {
	src := &stubSource{domains: []models.MappingDomain{billing()}}
	r := New(src, zap.NewNop())
	require.NoError(t, r.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap := r.Current()
				if len(snap.Domains) == 1 {
					assert.Len(t, snap.Mocks(snap.Domains[0].ID), 1)
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			src.set([]models.MappingDomain{billing()}, nil)
		} else {
			src.set(nil, errors.New("flaky"))
		}
		_ = r.Refresh(context.Background())
	}
	cancel()
	wg.Wait()
}

func TestStartRefreshesOnTicker(t *testing.T) {
	src := &stubSource{domains: []models.MappingDomain{billing()}}
	r := New(src, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := r.Start(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool { return r.Loaded() }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestHTTPSource(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"success":true,"data":{"mappingDomains":[{"id":1,"path":"/billing","forward_domain":"https://up.example","state":"Active","forward_state":"AllApi"}]}}`))
	}))
	defer srv.Close()

	r := New(&HTTPSource{Client: configclient.New(srv.URL)}, zap.NewNop())
	require.NoError(t, r.Refresh(context.Background()))
	assert.Len(t, r.Current().Domains, 1)
	assert.Equal(t, int32(1), hits.Load())
}

const yamlConfig = `
success: true
data:
  mappingDomains:
    - id: 4
      project_name: shop
      path: /shop
      forward_domain: http://shop.internal
      state: Active
      forward_state: SomeApi
      mockResponses:
        - id: 1
          path: cart
          method: GET
          status_code: 200
          headers:
            x-mock: true
          body:
            items: [1, 2]
          state: Active
          created_at: 2026-01-02T03:04:05Z
`

func TestFileSourceYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o600))

	domains, err := (&FileSource{Path: path}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, domains, 1)
	require.Len(t, domains[0].MockResponses, 1)

	m := domains[0].MockResponses[0]
	assert.JSONEq(t, `{"items":[1,2]}`, string(m.Body))
	assert.Equal(t, "true", m.Headers["x-mock"])
	assert.Equal(t, 2026, m.CreatedAt.Year())
}

func TestFileSourceMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"success":`), 0o600))

	_, err := (&FileSource{Path: path}).Load(context.Background())
	assert.ErrorIs(t, err, configclient.ErrBadPayload)
}

func TestWatchRefreshesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"success":true,"data":{"mappingDomains":[]}}`), 0o600))

	r := New(&FileSource{Path: path}, zap.NewNop())
	require.NoError(t, r.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Watch(ctx, path) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"success":true,"data":{"mappingDomains":[{"id":1,"path":"/a","forward_domain":"http://a","state":"Active","forward_state":"AllApi"}]}}`), 0o600)
		return len(r.Current().Domains) == 1
	}, 2*time.Second, 50*time.Millisecond)
}
