package models

import (
	"strconv"
	"time"
)

// EventNewAPILog is the event name emitted to a domain room for each persisted log
const EventNewAPILog = "new-api-log"

// DomainRoom returns the broadcast room name for a domain id
func DomainRoom(domainID int64) string {
	return "domain-" + strconv.FormatInt(domainID, 10)
}

// APILog is an immutable record of one routed request
type APILog struct {
	ID              string            `json:"id"`
	DomainID        int64             `json:"domain_id"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	Query           map[string]string `json:"query"`
	Method          string            `json:"method"`
	Status          int               `json:"status"`
	ToCurl          string            `json:"toCUrl"`
	ResponseHeaders map[string]string `json:"responseHeaders"`
	ResponseBody    string            `json:"responseBody"`
	DurationMs      int64             `json:"duration"`
	CreatedAt       time.Time         `json:"created_at"`
}

// CreateAPILogRequest is the body of POST /api/logs on the config service
type CreateAPILogRequest struct {
	DomainID        int64             `json:"domain_id"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	Query           map[string]string `json:"query"`
	Method          string            `json:"method"`
	Status          int               `json:"status"`
	ToCurl          string            `json:"toCUrl"`
	ResponseHeaders map[string]string `json:"responseHeaders"`
	ResponseBody    string            `json:"responseBody"`
	DurationMs      int64             `json:"duration"`
}

// NewAPILogEvent is the payload of the new-api-log event
type NewAPILogEvent struct {
	Log APILog `json:"log"`
}
