package server

import (
	"encoding/json"
	"sort"

	"assetline/internal/domain"
)

// Request payloads

type RecordDecisionRequest struct {
	Status             string                  `json:"status,omitempty" enum:"success,validation_failed,assignment_failed"`
	Rationale          string                  `json:"rationale"`
	CustomerMessage    *string                 `json:"customer_message,omitempty"`
	ClarifyingQuestion *string                 `json:"clarifying_question,omitempty"`
	ValidationResult   domain.ValidationResult `json:"validation_result"`
	Plan               domain.Plan             `json:"plan"`
	Assignment         domain.Assignment       `json:"assignment"`
}

// Response payloads

// The pipeline endpoints return the domain shapes verbatim; they are the
// external contract already.
type (
	validateResponse = domain.ValidationResult
	planResponse     = domain.Plan
	assignResponse   = domain.Assignment
	decisionBody     = domain.Decision
)

type RequestResponse struct {
	ID       string `json:"id"`
	Account  string `json:"account"`
	Style    string `json:"style,omitempty"`
	Engine   string `json:"engine,omitempty"`
	Topology string `json:"topology,omitempty"`
	Priority string `json:"priority,omitempty"`
	DueAt    string `json:"due_at,omitempty" format:"date-time"`
}

type ArtistResponse struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Skills             []string `json:"skills"`
	CapacityConcurrent int      `json:"capacity_concurrent"`
	ActiveLoad         int      `json:"active_load"`
	Available          int      `json:"available"`
}

type PresetResponse struct {
	Account string        `json:"account"`
	Preset  domain.Preset `json:"preset"`
}

type RuleResponse struct {
	ID   string            `json:"id"`
	If   map[string]string `json:"if"`
	Then domain.RuleEffect `json:"then"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type BatchResponse struct {
	Decisions []domain.Decision `json:"decisions"`
	Failed    []BatchFailure    `json:"failed"`
}

type BatchFailure struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

type StatusResponse struct {
	Requests       int            `json:"requests"`
	Artists        int            `json:"artists"`
	DecisionCounts map[string]int `json:"decision_counts"`
}

// Conversion helpers

func requestResponse(r domain.Request) RequestResponse {
	return RequestResponse(r)
}

func artistResponse(a domain.Artist) ArtistResponse {
	return ArtistResponse{
		ID:                 a.ID,
		Name:               a.Name,
		Skills:             nonNilSlice(a.Skills),
		CapacityConcurrent: a.CapacityConcurrent,
		ActiveLoad:         a.ActiveLoad,
		Available:          a.Available(),
	}
}

func ruleResponse(r domain.Rule) RuleResponse {
	return RuleResponse{ID: r.ID, If: r.If, Then: r.Then}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
