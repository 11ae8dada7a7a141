package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"assetline/internal/config"
	"assetline/internal/dataset"
	"assetline/internal/domain"
	"assetline/internal/events"
	"assetline/internal/pipeline"
	"assetline/internal/repo"
)

// Decision statuses, in derivation precedence order.
const (
	StatusValidationFailed = "validation_failed"
	StatusAssignmentFailed = "assignment_failed"
	StatusSuccess          = "success"
)

// Lifecycle event types emitted to the event log.
const (
	EventToolCalled       = "tool.called"
	EventToolCompleted    = "tool.completed"
	EventToolFailed       = "tool.failed"
	EventValidationFailed = "validation.failed"
	EventDecisionRecorded = "decision.recorded"
	EventDatasetImported  = "dataset.imported"
)

// Engine runs the request-decision pipeline over reference data in the
// store and appends the resulting decisions to the ledger.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Now       func() time.Time
	NewID     func() string
	AgentType string

	// Serializes ledger appends so decision ids stay unique and insertion
	// order is preserved under concurrent callers.
	ledgerMu *sync.Mutex
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Now:       time.Now,
		NewID:     uuid.NewString,
		AgentType: "pipeline",
		ledgerMu:  &sync.Mutex{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// emit writes a lifecycle event best-effort. Event delivery never blocks or
// alters a pipeline outcome.
func (e Engine) emit(ctx context.Context, evtType, entityKind, entityID string, payload events.EventPayload) {
	if err := e.Events.Emit(ctx, evtType, entityKind, entityID, payload); err != nil {
		log.Printf("events: emit %s failed: %v", evtType, err)
	}
}

func (e Engine) plannerConfig() pipeline.PlannerConfig {
	return pipeline.PlannerConfig{
		BaseSteps:       e.Config.Planner.BaseSteps,
		HoursPerStep:    e.Config.Planner.HoursPerStep,
		DefaultSLAHours: e.Config.Planner.DefaultSLAHours,
	}
}

func (e Engine) scoringConfig() pipeline.ScoringConfig {
	return pipeline.ScoringConfig{
		Engine:     e.Config.Scoring.Engine,
		Style:      e.Config.Scoring.Style,
		Topology:   e.Config.Scoring.Topology,
		Priority:   e.Config.Scoring.Priority,
		Alternates: e.Config.Scoring.Alternates,
	}
}

// ImportDataset replaces the stored reference documents with one snapshot.
func (e Engine) ImportDataset(ctx context.Context, ds *dataset.Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.timestamp()
	for _, req := range ds.Requests {
		if err := e.Repo.UpsertRequestTx(ctx, tx, req); err != nil {
			return fmt.Errorf("import request %s: %w", req.ID, err)
		}
	}
	for _, a := range ds.Artists {
		if err := e.Repo.UpsertArtistTx(ctx, tx, a); err != nil {
			return fmt.Errorf("import artist %s: %w", a.ID, err)
		}
	}
	for account, p := range ds.Presets {
		if err := e.Repo.UpsertPresetTx(ctx, tx, account, p, now); err != nil {
			return fmt.Errorf("import preset %s: %w", account, err)
		}
	}
	if err := e.Repo.ReplaceRulesTx(ctx, tx, ds.Rules); err != nil {
		return fmt.Errorf("import rules: %w", err)
	}
	if err := e.Events.Append(ctx, tx, EventDatasetImported, "dataset", "", events.EventPayload{
		"requests": len(ds.Requests),
		"artists":  len(ds.Artists),
		"presets":  len(ds.Presets),
		"rules":    len(ds.Rules),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidatePreset checks the stored preset for an account. An unknown request
// or account is a negative result, not an error.
func (e Engine) ValidatePreset(ctx context.Context, requestID, accountID string) (domain.ValidationResult, error) {
	start := e.now()
	e.emit(ctx, EventToolCalled, "tool", "validate_preset", events.EventPayload{
		"tool": "validate_preset", "request_id": requestID, "account_id": accountID,
	})

	if _, err := e.Repo.GetRequest(ctx, requestID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			e.emitToolFailed(ctx, "validate_preset", err)
			return domain.ValidationResult{}, err
		}
		result := domain.ValidationResult{
			OK:          false,
			Errors:      []string{fmt.Sprintf("Request %s not found", requestID)},
			ValidatedAt: e.timestamp(),
		}
		e.emitToolCompleted(ctx, "validate_preset", start)
		return result, nil
	}

	var preset *domain.Preset
	p, err := e.Repo.GetPreset(ctx, accountID)
	if err == nil {
		preset = &p
	} else if !errors.Is(err, repo.ErrNotFound) {
		e.emitToolFailed(ctx, "validate_preset", err)
		return domain.ValidationResult{}, err
	}

	result := pipeline.ValidatePreset(preset)
	result.ValidatedAt = e.timestamp()

	if preset != nil && preset.Packing != nil {
		if missing := pipeline.MissingChannels(preset.Packing); len(missing) > 0 {
			e.emit(ctx, EventValidationFailed, "request", requestID, events.EventPayload{
				"request_id":       requestID,
				"account_id":       accountID,
				"error":            "invalid_texture_packing",
				"missing_channels": missing,
			})
		}
	}

	e.emitToolCompleted(ctx, "validate_preset", start)
	return result, nil
}

// PlanSteps expands the workflow plan for a request.
func (e Engine) PlanSteps(ctx context.Context, requestID string) (domain.Plan, error) {
	start := e.now()
	e.emit(ctx, EventToolCalled, "tool", "plan_steps", events.EventPayload{
		"tool": "plan_steps", "request_id": requestID,
	})

	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			e.emitToolFailed(ctx, "plan_steps", err)
			return domain.Plan{}, err
		}
		plan := domain.Plan{
			Steps:        []string{},
			MatchedRules: []domain.MatchedRule{},
			Error:        fmt.Sprintf("Request %s not found", requestID),
		}
		e.emitToolCompleted(ctx, "plan_steps", start)
		return plan, nil
	}

	rules, err := e.Repo.ListRules(ctx)
	if err != nil {
		e.emitToolFailed(ctx, "plan_steps", err)
		return domain.Plan{}, err
	}

	plan := pipeline.PlanSteps(req, rules, e.plannerConfig())
	e.emitToolCompleted(ctx, "plan_steps", start)
	return plan, nil
}

// AssignArtist scores the roster for a request and picks one artist. The
// plan is recomputed internally so the call stays idempotent on its own.
func (e Engine) AssignArtist(ctx context.Context, requestID string) (domain.Assignment, error) {
	start := e.now()
	e.emit(ctx, EventToolCalled, "tool", "assign_artist", events.EventPayload{
		"tool": "assign_artist", "request_id": requestID,
	})

	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			e.emitToolFailed(ctx, "assign_artist", err)
			return domain.Assignment{}, err
		}
		assignment := domain.Assignment{
			Reason:      fmt.Sprintf("Request %s not found", requestID),
			Alternative: []domain.AlternativeArtist{},
		}
		e.emitToolCompleted(ctx, "assign_artist", start)
		return assignment, nil
	}

	rules, err := e.Repo.ListRules(ctx)
	if err != nil {
		e.emitToolFailed(ctx, "assign_artist", err)
		return domain.Assignment{}, err
	}
	artists, err := e.Repo.ListArtists(ctx)
	if err != nil {
		e.emitToolFailed(ctx, "assign_artist", err)
		return domain.Assignment{}, err
	}

	plan := pipeline.PlanSteps(req, rules, e.plannerConfig())
	assignment := pipeline.AssignArtist(req, plan, artists, e.scoringConfig())
	e.emitToolCompleted(ctx, "assign_artist", start)
	return assignment, nil
}

// RecordDecision appends a decision to the ledger. The decision id and
// recorded timestamp are assigned here when absent; the status is derived
// from the decision parts when the caller did not set it.
func (e Engine) RecordDecision(ctx context.Context, d domain.Decision) (domain.Decision, error) {
	start := e.now()
	e.emit(ctx, EventToolCalled, "tool", "record_decision", events.EventPayload{
		"tool": "record_decision", "request_id": d.RequestID,
	})

	if d.RequestID == "" {
		err := errors.New("request id is required")
		e.emitToolFailed(ctx, "record_decision", err)
		return d, err
	}
	if d.DecisionID == "" {
		d.DecisionID = e.newID()
	}
	if d.RecordedAt == "" {
		d.RecordedAt = e.timestamp()
	}
	if d.Status == "" {
		d.Status = DeriveStatus(d.ValidationResult, d.Assignment)
	}
	if d.Trace == nil {
		d.Trace = []domain.TraceEntry{}
	}
	if d.ValidationResult.Errors == nil {
		d.ValidationResult.Errors = []string{}
	}
	if d.Assignment.Alternative == nil {
		d.Assignment.Alternative = []domain.AlternativeArtist{}
	}

	e.ledgerMu.Lock()
	defer e.ledgerMu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.emitToolFailed(ctx, "record_decision", err)
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDecisionTx(ctx, tx, d); err != nil {
		e.emitToolFailed(ctx, "record_decision", err)
		return d, fmt.Errorf("append decision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		e.emitToolFailed(ctx, "record_decision", err)
		return d, err
	}

	e.emit(ctx, EventDecisionRecorded, "decision", d.DecisionID, events.EventPayload{
		"decision_id": d.DecisionID,
		"request_id":  d.RequestID,
		"status":      d.Status,
	})
	e.emitToolCompleted(ctx, "record_decision", start)
	return d, nil
}

// DeriveStatus applies the fixed precedence: validation failure first, then
// assignment failure, then success.
func DeriveStatus(validation domain.ValidationResult, assignment domain.Assignment) string {
	if !validation.OK {
		return StatusValidationFailed
	}
	if assignment.ArtistID == nil {
		return StatusAssignmentFailed
	}
	return StatusSuccess
}

// ProcessRequest runs the full pipeline for one request and records the
// decision. The recorder always receives all partial results, so a failed
// validation still leaves a complete audit record.
func (e Engine) ProcessRequest(ctx context.Context, requestID string) (domain.Decision, error) {
	start := e.now()
	var trace []domain.TraceEntry

	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("request %s: %w", requestID, err)
	}

	artists, err := e.Repo.ListArtists(ctx)
	if err != nil {
		return domain.Decision{}, err
	}
	presets, err := e.Repo.ListPresets(ctx)
	if err != nil {
		return domain.Decision{}, err
	}
	rules, err := e.Repo.ListRules(ctx)
	if err != nil {
		return domain.Decision{}, err
	}
	trace = append(trace, domain.TraceEntry{
		Step:      "load_reference",
		Timestamp: e.timestamp(),
		Result: map[string]any{
			"artists": len(artists),
			"presets": len(presets),
			"rules":   len(rules),
		},
	})

	validation, err := e.ValidatePreset(ctx, requestID, req.Account)
	if err != nil {
		return domain.Decision{}, err
	}
	trace = append(trace, domain.TraceEntry{
		Step:      "validate_preset",
		Timestamp: e.timestamp(),
		Result:    map[string]any{"ok": validation.OK, "errors": len(validation.Errors)},
	})

	plan, err := e.PlanSteps(ctx, requestID)
	if err != nil {
		return domain.Decision{}, err
	}
	trace = append(trace, domain.TraceEntry{
		Step:      "plan_steps",
		Timestamp: e.timestamp(),
		Result:    map[string]any{"steps": len(plan.Steps), "matched_rules": len(plan.MatchedRules)},
	})

	assignment := pipeline.AssignArtist(req, plan, artists, e.scoringConfig())
	assignResult := map[string]any{"match_score": assignment.MatchScore}
	if assignment.ArtistID != nil {
		assignResult["artist_id"] = *assignment.ArtistID
	}
	trace = append(trace, domain.TraceEntry{
		Step:      "assign_artist",
		Timestamp: e.timestamp(),
		Result:    assignResult,
	})

	status := DeriveStatus(validation, assignment)
	customerMessage, clarifyingQuestion := customerMessaging(status, req.Account, validation)

	decision := domain.Decision{
		RequestID:          requestID,
		Status:             status,
		Rationale:          rationale(req, validation, plan, assignment, status),
		CustomerMessage:    customerMessage,
		ClarifyingQuestion: clarifyingQuestion,
		ValidationResult:   validation,
		Plan:               plan,
		Assignment:         assignment,
		Trace:              trace,
		Metrics: domain.Metrics{
			ProcessingTimeMS: e.now().Sub(start).Milliseconds(),
			AgentType:        e.AgentType,
		},
	}
	return e.RecordDecision(ctx, decision)
}

// ProcessError reports a request whose pipeline run failed.
type ProcessError struct {
	RequestID string
	Err       error
}

func (p ProcessError) Error() string {
	return fmt.Sprintf("request %s: %v", p.RequestID, p.Err)
}

// ProcessAll runs the pipeline over every stored request. A failing request
// never aborts the rest of the batch.
func (e Engine) ProcessAll(ctx context.Context) ([]domain.Decision, []ProcessError) {
	requests, err := e.Repo.ListRequests(ctx)
	if err != nil {
		return nil, []ProcessError{{Err: err}}
	}
	var decisions []domain.Decision
	var failures []ProcessError
	for _, req := range requests {
		d, err := e.ProcessRequest(ctx, req.ID)
		if err != nil {
			failures = append(failures, ProcessError{RequestID: req.ID, Err: err})
			continue
		}
		decisions = append(decisions, d)
	}
	return decisions, failures
}

func (e Engine) emitToolCompleted(ctx context.Context, tool string, start time.Time) {
	e.emit(ctx, EventToolCompleted, "tool", tool, events.EventPayload{
		"tool":        tool,
		"duration_ms": e.now().Sub(start).Milliseconds(),
		"success":     true,
	})
}

func (e Engine) emitToolFailed(ctx context.Context, tool string, err error) {
	e.emit(ctx, EventToolFailed, "tool", tool, events.EventPayload{
		"tool":  tool,
		"error": err.Error(),
	})
}

// rationale composes the decision explanation from the pipeline parts. It is
// template-based so identical inputs always produce identical text.
func rationale(req domain.Request, validation domain.ValidationResult, plan domain.Plan, assignment domain.Assignment, status string) string {
	switch status {
	case StatusSuccess:
		name := ""
		if assignment.ArtistName != nil {
			name = *assignment.ArtistName
		}
		version := 0
		if validation.PresetVersion != nil {
			version = *validation.PresetVersion
		}
		return fmt.Sprintf("Request %s from %s processed successfully. Validation passed (v%d), %d workflow steps planned, assigned to %s with score %d.",
			req.ID, req.Account, version, len(plan.Steps), name, assignment.MatchScore)
	case StatusValidationFailed:
		return fmt.Sprintf("Request %s failed validation: %s. Customer preset must be fixed before processing.",
			req.ID, strings.Join(validation.Errors, ", "))
	default:
		reason := assignment.Reason
		if reason == "" {
			reason = "No available artists"
		}
		return fmt.Sprintf("Request %s validated but cannot be assigned: %s.", req.ID, reason)
	}
}

// customerMessaging derives the customer-safe message and follow-up question
// for non-success outcomes. Only the structured validation errors reach the
// customer, never internal error detail.
func customerMessaging(status, account string, validation domain.ValidationResult) (*string, *string) {
	switch status {
	case StatusValidationFailed:
		joined := strings.ToLower(strings.Join(validation.Errors, " "))
		var message, question string
		if strings.Contains(joined, "texture channel") {
			message = fmt.Sprintf("Configuration issue for %s: Your texture packing appears incomplete. Please configure all RGBA channels so we can generate engine-ready textures.", account)
			question = "Would you like us to apply default channel mappings now, or wait for your preset update?"
		} else {
			first := "Unknown issue"
			if len(validation.Errors) > 0 {
				first = validation.Errors[0]
			}
			message = "Validation error: " + first
			question = "Would you like help updating your preset?"
		}
		return &message, &question
	case StatusAssignmentFailed:
		message := "Your request is queued and will be assigned soon."
		question := "Would you like priority processing?"
		return &message, &question
	default:
		return nil, nil
	}
}
