package domain

// Request is a pending 3D asset request. Requests are read-only inputs;
// the pipeline never mutates them.
type Request struct {
	ID       string `json:"id"`
	Account  string `json:"account"`
	Style    string `json:"style,omitempty"`
	Engine   string `json:"engine,omitempty"`
	Topology string `json:"topology,omitempty"`
	Priority string `json:"priority,omitempty"`
	DueAt    string `json:"due_at,omitempty" format:"date-time"`
}

// Attribute resolves a routing attribute by its document key. The second
// return is false when the attribute is unset on this request.
func (r Request) Attribute(name string) (string, bool) {
	var v string
	switch name {
	case "id":
		v = r.ID
	case "account":
		v = r.Account
	case "style":
		v = r.Style
	case "engine":
		v = r.Engine
	case "topology":
		v = r.Topology
	case "priority":
		v = r.Priority
	case "due_at":
		v = r.DueAt
	default:
		return "", false
	}
	return v, v != ""
}

// NamingSpec is the delivery file naming section of a preset.
type NamingSpec struct {
	Pattern string `json:"pattern" yaml:"pattern"`
}

// Preset is a customer's stored technical configuration. A valid preset
// carries a positive version and all four RGBA packing channels.
type Preset struct {
	Version int               `json:"version,omitempty"`
	Naming  *NamingSpec       `json:"naming,omitempty"`
	Packing map[string]string `json:"packing,omitempty"`
}

// RuleEffect is what a matched rule applies to a plan.
type RuleEffect struct {
	Steps    []string `json:"steps,omitempty"`
	SLAHours int      `json:"sla_hours,omitempty"`
	Queue    string   `json:"queue,omitempty"`
}

// Rule is a conditional planning effect: when every key in If equals the
// request's corresponding attribute, Then is applied.
type Rule struct {
	ID   string            `json:"id"`
	If   map[string]string `json:"if"`
	Then RuleEffect        `json:"then"`
}

// Artist is a roster entry. The invariant active_load <= capacity_concurrent
// is owned by the roster source, not enforced here.
type Artist struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Skills             []string `json:"skills"`
	CapacityConcurrent int      `json:"capacity_concurrent"`
	ActiveLoad         int      `json:"active_load"`
}

// Available returns the artist's remaining concurrent slots.
func (a Artist) Available() int {
	return a.CapacityConcurrent - a.ActiveLoad
}

// ValidationResult reports preset completeness for one account.
type ValidationResult struct {
	OK            bool     `json:"ok"`
	Errors        []string `json:"errors"`
	PresetVersion *int     `json:"preset_version"`
	ValidatedAt   string   `json:"validation_timestamp,omitempty" format:"date-time"`
}

// MatchedRule records one rule that matched a request and the effect applied,
// kept for audit even when the effect was a no-op.
type MatchedRule struct {
	RuleID    string            `json:"rule_id"`
	Condition map[string]string `json:"condition"`
	Effect    RuleEffect        `json:"effect"`
}

// Plan is the rule-expanded step sequence for a request.
type Plan struct {
	Steps          []string      `json:"steps"`
	MatchedRules   []MatchedRule `json:"matched_rules"`
	EstimatedHours int           `json:"estimated_hours"`
	SLAHours       int           `json:"sla_hours"`
	PriorityQueue  bool          `json:"priority_queue"`
	Error          string        `json:"error,omitempty"`
}

// AlternativeArtist is a ranked runner-up candidate.
type AlternativeArtist struct {
	ArtistID   string `json:"artist_id"`
	MatchScore int    `json:"match_score"`
}

// Assignment is the artist selection outcome. A nil ArtistID means no
// eligible candidate; that is a terminal result, not an error.
type Assignment struct {
	ArtistID    *string             `json:"artist_id"`
	ArtistName  *string             `json:"artist_name"`
	MatchScore  int                 `json:"match_score"`
	Reason      string              `json:"reason"`
	Alternative []AlternativeArtist `json:"alternative_artists"`
}

// TraceEntry is one pipeline stage record inside a decision's audit trail.
type TraceEntry struct {
	Step      string         `json:"step"`
	Timestamp string         `json:"timestamp" format:"date-time"`
	Result    map[string]any `json:"result,omitempty"`
}

// Metrics summarizes a single pipeline run.
type Metrics struct {
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	AgentType        string `json:"agent_type"`
}

// Decision is the immutable audit record produced per processed request.
// It is the only entity this system creates and owns.
type Decision struct {
	DecisionID         string           `json:"decision_id"`
	RequestID          string           `json:"request_id"`
	Status             string           `json:"status" enum:"success,validation_failed,assignment_failed"`
	Rationale          string           `json:"rationale"`
	CustomerMessage    *string          `json:"customer_message,omitempty"`
	ClarifyingQuestion *string          `json:"clarifying_question,omitempty"`
	ValidationResult   ValidationResult `json:"validation_result"`
	Plan               Plan             `json:"plan"`
	Assignment         Assignment       `json:"assignment"`
	Trace              []TraceEntry     `json:"trace"`
	Metrics            Metrics          `json:"metrics"`
	RecordedAt         string           `json:"recorded_at" format:"date-time"`
}

// Event is one entry of the lifecycle event log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
