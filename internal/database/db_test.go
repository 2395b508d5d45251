package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsnoxius/mockgate/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nested", "logs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateAndGetLog(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := db.CreateLog(ctx, models.CreateAPILogRequest{
		DomainID:        7,
		Method:          "POST",
		Status:          201,
		Headers:         map[string]string{"Content-Type": "application/json"},
		Body:            `{"a":1}`,
		Query:           map[string]string{"page": "2"},
		ToCurl:          "curl -X POST 'http://up/x'",
		ResponseHeaders: map[string]string{"X-Up": "1"},
		ResponseBody:    `{"ok":true}`,
		DurationMs:      12,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := db.GetLog(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.DomainID)
	assert.Equal(t, 201, got.Status)
	assert.Equal(t, "2", got.Query["page"])
	assert.Equal(t, "1", got.ResponseHeaders["X-Up"])
	assert.Equal(t, int64(12), got.DurationMs)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

	missing, err := db.GetLog(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListLogsNewestFirstAndLimited(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, status := range []int{200, 201, 202} {
		_, err := db.CreateLog(ctx, models.CreateAPILogRequest{DomainID: 1, Method: "GET", Status: status})
		require.NoError(t, err)
	}
	_, err := db.CreateLog(ctx, models.CreateAPILogRequest{DomainID: 2, Method: "GET", Status: 500})
	require.NoError(t, err)

	logs, err := db.ListLogs(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 202, logs[0].Status)
	assert.Equal(t, 201, logs[1].Status)
	assert.NotNil(t, logs[0].Headers)

	empty, err := db.ListLogs(ctx, 99, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeleteLogsByDomain(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := db.CreateLog(ctx, models.CreateAPILogRequest{DomainID: 4, Method: "GET", Status: 200})
		require.NoError(t, err)
	}

	n, err := db.DeleteLogsByDomain(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	logs, err := db.ListLogs(ctx, 4, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestParseTime(t *testing.T) {
	assert.Equal(t, 2024, parseTime("2024-03-01 10:00:00").Year())
	assert.Equal(t, 2024, parseTime("2024-03-01T10:00:00Z").Year())
	assert.True(t, parseTime("garbage").IsZero())
}
