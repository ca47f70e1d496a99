package server

import (
	"momentum/internal/domain"
	"momentum/internal/engine"
)

// Request payloads

type ActionRequest struct {
	Action  string         `json:"action" example:"ADD_TASK"`
	Payload map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"title\":\"Write report\",\"difficulty\":\"medium\",\"energy\":\"high\",\"type\":\"deep\"}"`
}

type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

// Response payloads

type ActionResponse struct {
	engine.Result
	Warning   string `json:"warning,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty" format:"date-time"`
}

type SuggestionResponse struct {
	domain.Suggestion
	PeakHour *int `json:"peak_hour,omitempty"`
}

type PatternsResponse struct {
	Items []domain.PatternEntry `json:"items"`
}

type ResetResponse struct {
	Status string `json:"status"`
}
