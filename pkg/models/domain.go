package models

// DomainState gates whether a mapping domain takes part in resolution at all
type DomainState string

const (
	DomainActive   DomainState = "Active"
	DomainInActive DomainState = "InActive"
)

// ForwardState is the domain-level switch for prefix matching
type ForwardState string

const (
	ForwardNone ForwardState = "NoneApi"
	ForwardSome ForwardState = "SomeApi"
	ForwardAll  ForwardState = "AllApi"
)

// MappingDomain represents a prefix-to-upstream routing rule
type MappingDomain struct {
	ID            int64          `json:"id"`
	ProjectName   string         `json:"project_name"`
	Path          string         `json:"path"`
	ForwardDomain string         `json:"forward_domain"`
	State         DomainState    `json:"state"`
	ForwardState  ForwardState   `json:"forward_state"`
	MockResponses []MockResponse `json:"mockResponses,omitempty"`
	MockGroups    []MockGroup    `json:"mockGroups,omitempty"`
}

// IsActive reports whether the domain participates in resolution
func (d *MappingDomain) IsActive() bool {
	return d.State == DomainActive
}

// Room is the broadcast channel name for events attributed to the domain
func (d *MappingDomain) Room() string {
	return DomainRoom(d.ID)
}

// ConfigResponse is the envelope returned by the config service for
// GET /api/config/mappingDomain
type ConfigResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Data    ConfigData `json:"data"`
}

// ConfigData holds the domain list of a ConfigResponse
type ConfigData struct {
	MappingDomains []MappingDomain `json:"mappingDomains"`
}
