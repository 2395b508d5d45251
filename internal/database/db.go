package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/itsnoxius/mockgate/pkg/models"
)

// DefaultListLimit caps ListLogs when no limit is given
const DefaultListLimit = 100

// timeLayout has a fixed width so created_at sorts lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the database connection and api log operations
type DB struct {
	conn *sql.DB
}

// New opens (creating if needed) the database and initializes the schema
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer; log workers share one connection
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS api_logs (
		id TEXT PRIMARY KEY NOT NULL,
		domain_id INTEGER NOT NULL,
		method TEXT NOT NULL,
		status INTEGER NOT NULL,
		headers TEXT NOT NULL DEFAULT '{}',
		body TEXT NOT NULL DEFAULT '',
		query TEXT NOT NULL DEFAULT '{}',
		to_curl TEXT NOT NULL DEFAULT '',
		response_headers TEXT NOT NULL DEFAULT '{}',
		response_body TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_api_logs_domain_created ON api_logs (domain_id, created_at);
	`

	_, err := db.conn.Exec(query)
	return err
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// CreateLog persists a log and returns the stored record with its id and timestamp
func (db *DB) CreateLog(ctx context.Context, req models.CreateAPILogRequest) (*models.APILog, error) {
	log := models.APILog{
		ID:              uuid.NewString(),
		DomainID:        req.DomainID,
		Headers:         req.Headers,
		Body:            req.Body,
		Query:           req.Query,
		Method:          req.Method,
		Status:          req.Status,
		ToCurl:          req.ToCurl,
		ResponseHeaders: req.ResponseHeaders,
		ResponseBody:    req.ResponseBody,
		DurationMs:      req.DurationMs,
		CreatedAt:       time.Now().UTC(),
	}

	headers, err := encodeMap(log.Headers)
	if err != nil {
		return nil, err
	}
	query, err := encodeMap(log.Query)
	if err != nil {
		return nil, err
	}
	respHeaders, err := encodeMap(log.ResponseHeaders)
	if err != nil {
		return nil, err
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO api_logs (id, domain_id, method, status, headers, body, query, to_curl,
			response_headers, response_body, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.DomainID, log.Method, log.Status, headers, log.Body, query, log.ToCurl,
		respHeaders, log.ResponseBody, log.DurationMs, log.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to create api log: %w", err)
	}

	return &log, nil
}

// GetLog retrieves a single log by id, or nil when it does not exist
func (db *DB) GetLog(ctx context.Context, id string) (*models.APILog, error) {
	row := db.conn.QueryRowContext(ctx, selectLogs+` WHERE id = ?`, id)
	log, err := scanLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get api log: %w", err)
	}
	return log, nil
}

// ListLogs returns the most recent logs for a domain, newest first
func (db *DB) ListLogs(ctx context.Context, domainID int64, limit int) ([]models.APILog, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := db.conn.QueryContext(ctx,
		selectLogs+` WHERE domain_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, domainID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query api logs: %w", err)
	}
	defer rows.Close()

	logs := []models.APILog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api log: %w", err)
		}
		logs = append(logs, *log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api logs: %w", err)
	}

	return logs, nil
}

// DeleteLogsByDomain removes every log of a domain and reports how many were deleted
func (db *DB) DeleteLogsByDomain(ctx context.Context, domainID int64) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM api_logs WHERE domain_id = ?`, domainID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete api logs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

const selectLogs = `SELECT id, domain_id, method, status, headers, body, query, to_curl,
	response_headers, response_body, duration_ms, created_at FROM api_logs`

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(s scanner) (*models.APILog, error) {
	var l models.APILog
	var headers, query, respHeaders, createdAt string

	err := s.Scan(&l.ID, &l.DomainID, &l.Method, &l.Status, &headers, &l.Body, &query, &l.ToCurl,
		&respHeaders, &l.ResponseBody, &l.DurationMs, &createdAt)
	if err != nil {
		return nil, err
	}

	l.Headers = decodeMap(headers)
	l.Query = decodeMap(query)
	l.ResponseHeaders = decodeMap(respHeaders)
	l.CreatedAt = parseTime(createdAt)
	return &l, nil
}

func encodeMap(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode map column: %w", err)
	}
	return string(data), nil
}

func decodeMap(s string) map[string]string {
	m := map[string]string{}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

// parseTime accepts the timestamp formats sqlite may hand back
func parseTime(ts string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}
