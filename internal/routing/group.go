package routing

import (
	"github.com/itsnoxius/mockgate/pkg/models"
)

// StateChange is one edit the administrative side has to apply to a mock
type StateChange struct {
	MockResponseID int64            `json:"mock_response_id"`
	From           models.MockState `json:"from"`
	To             models.MockState `json:"to"`
}

// GroupState derives a group's aggregate state: Active when at least one
// member is the record currently served for its path and method, InActive
// otherwise (including empty groups).
func GroupState(group models.MockGroup, mocks []models.MockResponse) models.GroupState {
	byID := indexMocks(mocks)
	for _, row := range group.Associations() {
		m, ok := byID[row.MockResponseID]
		if !ok || m.State != models.MockActive {
			continue
		}
		if w := latest(NormalizePath(m.Path), m.Method, mocks); w != nil && w.ID == m.ID {
			return models.GroupActive
		}
	}
	return models.GroupInActive
}

// PlanToggle computes the edits that move a group to the target state.
// Activating sets every member that is not Active to Active; deactivating
// disables every Active member. Members unknown to the snapshot are skipped.
func PlanToggle(group models.MockGroup, mocks []models.MockResponse, target models.GroupState) []StateChange {
	byID := indexMocks(mocks)
	changes := make([]StateChange, 0)

	for _, row := range group.Associations() {
		m, ok := byID[row.MockResponseID]
		if !ok {
			continue
		}
		switch target {
		case models.GroupActive:
			if m.State != models.MockActive {
				changes = append(changes, StateChange{MockResponseID: m.ID, From: m.State, To: models.MockActive})
			}
		case models.GroupInActive:
			if m.State == models.MockActive {
				changes = append(changes, StateChange{MockResponseID: m.ID, From: m.State, To: models.MockDisable})
			}
		}
	}
	return changes
}

func indexMocks(mocks []models.MockResponse) map[int64]*models.MockResponse {
	byID := make(map[int64]*models.MockResponse, len(mocks))
	for i := range mocks {
		byID[mocks[i].ID] = &mocks[i]
	}
	return byID
}
