package model

import (
	"time"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId,omitempty"`
}

// ChatResponse is the successful reply of POST /chat.
type ChatResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is returned for 4xx and 5xx replies.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}
