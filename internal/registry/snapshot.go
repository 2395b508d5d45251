package registry

import (
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/itsnoxius/mockgate/pkg/models"
)

// Snapshot is an immutable view of the mapping configuration. It is never
// mutated after construction; a refresh builds a new one.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time
	Domains  []models.MappingDomain

	byID   map[int64]*models.MappingDomain
	mocks  map[int64][]models.MockResponse
	groups map[int64][]models.MockGroup
}

// Empty returns the snapshot served before the first successful load
func Empty() *Snapshot {
	return &Snapshot{
		byID:   map[int64]*models.MappingDomain{},
		mocks:  map[int64][]models.MockResponse{},
		groups: map[int64][]models.MockGroup{},
	}
}

// NewSnapshot indexes the domains and their embedded mocks and groups. An
// Active domain whose path repeats an earlier Active domain is dropped so that
// path stays unique among the domains considered for matching.
func NewSnapshot(version uint64, domains []models.MappingDomain, logger *zap.Logger) *Snapshot {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := Empty()
	s.Version = version
	s.LoadedAt = time.Now()
	s.Domains = make([]models.MappingDomain, 0, len(domains))

	activePaths := make(map[string]int64, len(domains))
	for _, d := range domains {
		if d.IsActive() {
			if owner, dup := activePaths[d.Path]; dup {
				logger.Warn("dropping domain with duplicate active path",
					zap.Int64("domain_id", d.ID),
					zap.Int64("kept_domain_id", owner),
					zap.String("path", d.Path))
				continue
			}
			activePaths[d.Path] = d.ID
		}
		if u, err := url.Parse(d.ForwardDomain); err != nil || u.Scheme == "" || u.Host == "" {
			logger.Warn("domain has an invalid forward_domain",
				zap.Int64("domain_id", d.ID),
				zap.String("forward_domain", d.ForwardDomain))
		}

		mocks := d.MockResponses
		groups := d.MockGroups
		d.MockResponses = nil
		d.MockGroups = nil
		s.Domains = append(s.Domains, d)

		if len(mocks) > 0 {
			owned := make([]models.MockResponse, len(mocks))
			copy(owned, mocks)
			for i := range owned {
				if owned[i].DomainID == 0 {
					owned[i].DomainID = d.ID
				}
			}
			s.mocks[d.ID] = owned
		}
		if len(groups) > 0 {
			owned := make([]models.MockGroup, len(groups))
			copy(owned, groups)
			s.groups[d.ID] = owned
		}
	}

	for i := range s.Domains {
		s.byID[s.Domains[i].ID] = &s.Domains[i]
	}
	return s
}

// Domain returns a copy of the domain with the given id
func (s *Snapshot) Domain(id int64) (models.MappingDomain, bool) {
	d, ok := s.byID[id]
	if !ok {
		return models.MappingDomain{}, false
	}
	return *d, true
}

// Mocks returns the mock records of a domain. The slice must not be modified.
func (s *Snapshot) Mocks(domainID int64) []models.MockResponse {
	return s.mocks[domainID]
}

// Groups returns the mock groups of a domain. The slice must not be modified.
func (s *Snapshot) Groups(domainID int64) []models.MockGroup {
	return s.groups[domainID]
}

// Group finds one group of a domain
func (s *Snapshot) Group(domainID, groupID int64) (models.MockGroup, bool) {
	for _, g := range s.groups[domainID] {
		if g.ID == groupID {
			return g, true
		}
	}
	return models.MockGroup{}, false
}

// MockCount returns the total number of mock records across domains
func (s *Snapshot) MockCount() int {
	n := 0
	for _, m := range s.mocks {
		n += len(m)
	}
	return n
}
