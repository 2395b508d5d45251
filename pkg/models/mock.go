package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MockState determines whether a mock record is served, passed through or inert
type MockState string

const (
	MockActive  MockState = "Active"
	MockForward MockState = "Forward"
	MockDisable MockState = "Disable"
)

// MockResponse represents an override for one (domain, path, method) tuple
type MockResponse struct {
	ID         int64           `json:"id"`
	DomainID   int64           `json:"domain_id"`
	Name       string          `json:"name,omitempty"`
	Path       string          `json:"path"`
	Method     string          `json:"method"`
	StatusCode int             `json:"status_code"`
	Delay      int             `json:"delay"`
	Headers    Headers         `json:"headers"`
	Body       json.RawMessage `json:"body"`
	State      MockState       `json:"state"`
	CreatedAt  time.Time       `json:"created_at"`
}

// timestampLayouts are the created_at spellings seen from the config service
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -07:00",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON reads created_at, falling back to the Sequelize-style createdAt
// when the snake_case key is absent or null.
func (m *MockResponse) UnmarshalJSON(data []byte) error {
	type plain MockResponse
	aux := struct {
		*plain
		CreatedAt      json.RawMessage `json:"created_at"`
		CreatedAtCamel json.RawMessage `json:"createdAt"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := aux.CreatedAt
	if isNull(raw) {
		raw = aux.CreatedAtCamel
	}
	if isNull(raw) {
		m.CreatedAt = time.Time{}
		return nil
	}
	created, err := parseTimestamp(raw)
	if err != nil {
		return fmt.Errorf("mock response %d: %w", m.ID, err)
	}
	m.CreatedAt = created
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

// parseTimestamp accepts a JSON string in any of timestampLayouts or a number
// of milliseconds since the epoch.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var ms int64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return time.Time{}, fmt.Errorf("invalid created_at %s", raw)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid created_at %q", s)
}

// Payload returns the bytes to write for the mock body and whether they are JSON.
// A JSON string body is unwrapped; if its content is not itself JSON it is
// served as opaque text.
func (m *MockResponse) Payload() ([]byte, bool) {
	raw := strings.TrimSpace(string(m.Body))
	if raw == "" || raw == "null" {
		return nil, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return []byte(raw), false
		}
		return []byte(s), json.Valid([]byte(s))
	}
	return []byte(raw), true
}

// Headers is a key->value header map. It decodes permissively: an object with
// non-string values is stringified, an object encoded as a JSON string is
// unwrapped, and anything else decodes to an empty map.
type Headers map[string]string

func (h *Headers) UnmarshalJSON(data []byte) error {
	out := Headers{}
	*h = out

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return nil
		}
	}

	for k, v := range obj {
		switch t := v.(type) {
		case nil:
		case string:
			out[k] = t
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return nil
}

// MockGroup is a named, domain-scoped collection of mock records toggled together
type MockGroup struct {
	ID              int64   `json:"id"`
	DomainID        int64   `json:"domain_id"`
	Name            string  `json:"name"`
	MockResponseIDs []int64 `json:"mock_response_ids"`
}

// MockGroupResponse is the (group, mock) association row
type MockGroupResponse struct {
	GroupID        int64 `json:"mock_group_id"`
	MockResponseID int64 `json:"mock_response_id"`
}

// Associations expands the group into its association rows, dropping duplicates
func (g *MockGroup) Associations() []MockGroupResponse {
	seen := make(map[int64]struct{}, len(g.MockResponseIDs))
	rows := make([]MockGroupResponse, 0, len(g.MockResponseIDs))
	for _, id := range g.MockResponseIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, MockGroupResponse{GroupID: g.ID, MockResponseID: id})
	}
	return rows
}

// GroupState is the derived aggregate state of a mock group
type GroupState string

const (
	GroupActive   GroupState = "Active"
	GroupInActive GroupState = "InActive"
)

// MockLookupItem is one (path, method) pair of a batch lookup
type MockLookupItem struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

// MockBatchRequest is the body of POST /api/mock-responses/batch
type MockBatchRequest struct {
	DomainID int64            `json:"domainId"`
	Items    []MockLookupItem `json:"items"`
}

// MockBatchResult pairs a lookup item with the records found for it
type MockBatchResult struct {
	Path          string         `json:"path"`
	Method        string         `json:"method"`
	MockResponses []MockResponse `json:"mockResponses"`
}
