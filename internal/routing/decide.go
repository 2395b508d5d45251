package routing

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/itsnoxius/mockgate/pkg/models"
)

// Kind is the effective action for a request
type Kind int

const (
	// Unmatched means no mapping domain applies
	Unmatched Kind = iota
	// PassThrough forwards the request to the domain's upstream
	PassThrough
	// ServeMock answers with the stored mock record
	ServeMock
)

func (k Kind) String() string {
	switch k {
	case PassThrough:
		return "pass_through"
	case ServeMock:
		return "serve_mock"
	default:
		return "unmatched"
	}
}

// Decision is the outcome of Decide
type Decision struct {
	Kind Kind
	Mock *models.MockResponse
}

// Decide picks the effective action for (domain, path, method). Among the
// records matching the normalized path and method the most recently created
// one is authoritative: if it is Active it is served, any other state passes
// the request through.
func Decide(domain *models.MappingDomain, relativePath, method string, mocks []models.MockResponse) Decision {
	if domain == nil {
		return Decision{Kind: Unmatched}
	}

	winner := latest(NormalizePath(relativePath), method, mocks)
	if winner == nil || winner.State != models.MockActive {
		return Decision{Kind: PassThrough}
	}
	found := *winner
	return Decision{Kind: ServeMock, Mock: &found}
}

// latest returns the newest record for the path and method. Equal timestamps
// resolve to the record that appears later.
func latest(path, method string, mocks []models.MockResponse) *models.MockResponse {
	var winner *models.MockResponse
	for i := range mocks {
		m := &mocks[i]
		if !sameRoute(m, path, method) {
			continue
		}
		if winner == nil || !m.CreatedAt.Before(winner.CreatedAt) {
			winner = m
		}
	}
	return winner
}

func sameRoute(m *models.MockResponse, path, method string) bool {
	return NormalizePath(m.Path) == path && strings.EqualFold(m.Method, method)
}

// Candidates lists the records for a path and method newest first. Unless
// includeAllStates is set only Active records are returned.
func Candidates(relativePath, method string, mocks []models.MockResponse, includeAllStates bool) []models.MockResponse {
	path := NormalizePath(relativePath)

	type indexed struct {
		pos  int
		mock models.MockResponse
	}
	var found []indexed
	for i, m := range mocks {
		if !sameRoute(&m, path, method) {
			continue
		}
		if !includeAllStates && m.State != models.MockActive {
			continue
		}
		found = append(found, indexed{pos: i, mock: m})
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if !a.mock.CreatedAt.Equal(b.mock.CreatedAt) {
			return a.mock.CreatedAt.After(b.mock.CreatedAt)
		}
		return a.pos > b.pos
	})

	out := make([]models.MockResponse, len(found))
	for i, f := range found {
		out[i] = f.mock
	}
	return out
}

// Delay waits for the mock's configured delay, returning early with the
// context error if the request goes away first.
func Delay(ctx context.Context, m *models.MockResponse) error {
	if m == nil || m.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(m.Delay) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
