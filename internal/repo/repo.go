package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"assetline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- requests ---

func (r Repo) UpsertRequestTx(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(id,account,style,engine,topology,priority,due_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET account=excluded.account, style=excluded.style, engine=excluded.engine,
topology=excluded.topology, priority=excluded.priority, due_at=excluded.due_at`,
		req.ID, req.Account, nullable(req.Style), nullable(req.Engine), nullable(req.Topology), nullable(req.Priority), nullable(req.DueAt))
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,account,COALESCE(style,''),COALESCE(engine,''),COALESCE(topology,''),COALESCE(priority,''),COALESCE(due_at,'') FROM requests WHERE id=?`, id)
	var req domain.Request
	err := row.Scan(&req.ID, &req.Account, &req.Style, &req.Engine, &req.Topology, &req.Priority, &req.DueAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	return req, err
}

func (r Repo) ListRequests(ctx context.Context) ([]domain.Request, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,account,COALESCE(style,''),COALESCE(engine,''),COALESCE(topology,''),COALESCE(priority,''),COALESCE(due_at,'') FROM requests ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		var req domain.Request
		if err := rows.Scan(&req.ID, &req.Account, &req.Style, &req.Engine, &req.Topology, &req.Priority, &req.DueAt); err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// --- artists ---

func (r Repo) UpsertArtistTx(ctx context.Context, tx *sql.Tx, a domain.Artist) error {
	skills, err := json.Marshal(a.Skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO artists(id,name,skills_json,capacity_concurrent,active_load) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, skills_json=excluded.skills_json,
capacity_concurrent=excluded.capacity_concurrent, active_load=excluded.active_load`,
		a.ID, a.Name, string(skills), a.CapacityConcurrent, a.ActiveLoad)
	return err
}

func (r Repo) ListArtists(ctx context.Context) ([]domain.Artist, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,skills_json,capacity_concurrent,active_load FROM artists ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Artist
	for rows.Next() {
		var a domain.Artist
		var skills string
		if err := rows.Scan(&a.ID, &a.Name, &skills, &a.CapacityConcurrent, &a.ActiveLoad); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(skills), &a.Skills); err != nil {
			return nil, fmt.Errorf("artist %s skills: %w", a.ID, err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- presets ---

func (r Repo) UpsertPresetTx(ctx context.Context, tx *sql.Tx, account string, p domain.Preset, now string) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal preset: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO presets(account,preset_json,updated_at) VALUES (?,?,?)
ON CONFLICT(account) DO UPDATE SET preset_json=excluded.preset_json, updated_at=excluded.updated_at`,
		account, string(payload), now)
	return err
}

func (r Repo) GetPreset(ctx context.Context, account string) (domain.Preset, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT preset_json FROM presets WHERE account=?`, account).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Preset{}, ErrNotFound
	}
	if err != nil {
		return domain.Preset{}, err
	}
	var p domain.Preset
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return domain.Preset{}, fmt.Errorf("preset %s: %w", account, err)
	}
	return p, nil
}

func (r Repo) ListPresets(ctx context.Context) (map[string]domain.Preset, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT account,preset_json FROM presets ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.Preset{}
	for rows.Next() {
		var account, payload string
		if err := rows.Scan(&account, &payload); err != nil {
			return nil, err
		}
		var p domain.Preset
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("preset %s: %w", account, err)
		}
		res[account] = p
	}
	return res, rows.Err()
}

// --- rules ---

// ReplaceRulesTx swaps the full rule set. Rule evaluation order is the
// declaration order of the imported document, kept in the position column.
func (r Repo) ReplaceRulesTx(ctx context.Context, tx *sql.Tx, rules []domain.Rule) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
		return err
	}
	for i, rule := range rules {
		cond, err := json.Marshal(rule.If)
		if err != nil {
			return fmt.Errorf("marshal rule condition: %w", err)
		}
		effect, err := json.Marshal(rule.Then)
		if err != nil {
			return fmt.Errorf("marshal rule effect: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO rules(id,position,condition_json,effect_json) VALUES (?,?,?,?)`,
			rule.ID, i, string(cond), string(effect)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListRules(ctx context.Context) ([]domain.Rule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,condition_json,effect_json FROM rules ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var cond, effect string
		if err := rows.Scan(&rule.ID, &cond, &effect); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cond), &rule.If); err != nil {
			return nil, fmt.Errorf("rule %s condition: %w", rule.ID, err)
		}
		if err := json.Unmarshal([]byte(effect), &rule.Then); err != nil {
			return nil, fmt.Errorf("rule %s effect: %w", rule.ID, err)
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

// --- decisions ---

// InsertDecisionTx appends a decision to the ledger. The ledger is
// append-only; there is no update or delete path.
func (r Repo) InsertDecisionTx(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	validation, err := json.Marshal(d.ValidationResult)
	if err != nil {
		return fmt.Errorf("marshal validation: %w", err)
	}
	plan, err := json.Marshal(d.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	assignment, err := json.Marshal(d.Assignment)
	if err != nil {
		return fmt.Errorf("marshal assignment: %w", err)
	}
	trace, err := json.Marshal(d.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	metrics, err := json.Marshal(d.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO decisions(id,request_id,status,rationale,customer_message,clarifying_question,validation_json,plan_json,assignment_json,trace_json,metrics_json,recorded_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.DecisionID, d.RequestID, d.Status, d.Rationale, nullablePtr(d.CustomerMessage), nullablePtr(d.ClarifyingQuestion),
		string(validation), string(plan), string(assignment), string(trace), string(metrics), d.RecordedAt)
	return err
}

func scanDecision(scan func(dest ...any) error) (domain.Decision, error) {
	var d domain.Decision
	var customerMessage, clarifyingQuestion sql.NullString
	var validation, plan, assignment, trace, metrics string
	err := scan(&d.DecisionID, &d.RequestID, &d.Status, &d.Rationale, &customerMessage, &clarifyingQuestion,
		&validation, &plan, &assignment, &trace, &metrics, &d.RecordedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if customerMessage.Valid {
		d.CustomerMessage = &customerMessage.String
	}
	if clarifyingQuestion.Valid {
		d.ClarifyingQuestion = &clarifyingQuestion.String
	}
	if err := json.Unmarshal([]byte(validation), &d.ValidationResult); err != nil {
		return d, fmt.Errorf("decision %s validation: %w", d.DecisionID, err)
	}
	if err := json.Unmarshal([]byte(plan), &d.Plan); err != nil {
		return d, fmt.Errorf("decision %s plan: %w", d.DecisionID, err)
	}
	if err := json.Unmarshal([]byte(assignment), &d.Assignment); err != nil {
		return d, fmt.Errorf("decision %s assignment: %w", d.DecisionID, err)
	}
	if err := json.Unmarshal([]byte(trace), &d.Trace); err != nil {
		return d, fmt.Errorf("decision %s trace: %w", d.DecisionID, err)
	}
	if err := json.Unmarshal([]byte(metrics), &d.Metrics); err != nil {
		return d, fmt.Errorf("decision %s metrics: %w", d.DecisionID, err)
	}
	return d, nil
}

const decisionColumns = `id,request_id,status,rationale,customer_message,clarifying_question,validation_json,plan_json,assignment_json,trace_json,metrics_json,recorded_at`

func (r Repo) GetDecision(ctx context.Context, id string) (domain.Decision, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id=?`, id)
	return scanDecision(row.Scan)
}

// ListDecisions returns the ledger in insertion order.
func (r Repo) ListDecisions(ctx context.Context, requestID, status string) ([]domain.Decision, error) {
	clauses := []string{"1=1"}
	var args []any
	if requestID != "" {
		clauses = append(clauses, "request_id=?")
		args = append(args, requestID)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY seq`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) CountDecisionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM decisions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with id > cursor in ascending order, for sink
// delivery.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE id>? ORDER BY id LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
