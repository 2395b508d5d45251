package routing

import (
	"strings"

	"github.com/itsnoxius/mockgate/pkg/models"
)

// Resolve finds the mapping domain for a request path. An exact path match
// wins over any prefix match; otherwise the longest matching prefix is used.
// Only Active domains are considered and NoneApi domains never match.
func Resolve(requestPath string, domains []models.MappingDomain) (*models.MappingDomain, bool) {
	var best *models.MappingDomain

	for i := range domains {
		d := &domains[i]
		if !routable(d) {
			continue
		}
		if d.Path == requestPath {
			found := *d
			return &found, true
		}
		if d.Path == "" || !strings.HasPrefix(requestPath, d.Path) {
			continue
		}
		if best == nil || len(d.Path) > len(best.Path) {
			best = d
		}
	}

	if best == nil {
		return nil, false
	}
	found := *best
	return &found, true
}

func routable(d *models.MappingDomain) bool {
	return d.IsActive() && d.ForwardState != models.ForwardNone
}

// RelativePath strips the domain prefix from the request path, yielding "/"
// when nothing is left.
func RelativePath(domain *models.MappingDomain, requestPath string) string {
	rel := strings.TrimPrefix(requestPath, domain.Path)
	if rel == "" {
		return "/"
	}
	return rel
}

// NormalizePath applies the normalization mock paths get when they are
// created: one leading slash is dropped and an empty path becomes "/".
func NormalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "/"
	}
	return p
}
