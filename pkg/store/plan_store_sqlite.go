package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldops/dayplan/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLitePlanStore is the default PlanStore, backed by a file or in-memory
// SQLite database.
type SQLitePlanStore struct {
	db *sql.DB
}

func NewSQLitePlanStore(db *sql.DB) (*SQLitePlanStore, error) {
	s := &SQLitePlanStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLitePlanStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS daily_plans (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        planned_date TEXT NOT NULL,
        job_ids JSON NOT NULL,
        status TEXT NOT NULL,
        current_step TEXT NOT NULL,
        dispatch_output JSON,
        route_output JSON,
        inventory_output JSON,
        user_modifications JSON,
        error_state JSON,
        created_at DATETIME,
        updated_at DATETIME
    );
    CREATE UNIQUE INDEX IF NOT EXISTS idx_daily_plans_active
        ON daily_plans(user_id, planned_date)
        WHERE status != 'approved';`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLitePlanStore) Create(ctx context.Context, plan *contracts.DailyPlan) error {
	jobIDs, err := json.Marshal(plan.JobIDs)
	if err != nil {
		return fmt.Errorf("marshal job ids: %w", err)
	}
	mods, err := json.Marshal(plan.Modifications)
	if err != nil {
		return fmt.Errorf("marshal modifications: %w", err)
	}

	query := `INSERT INTO daily_plans (
		id, user_id, planned_date, job_ids, status, current_step, user_modifications, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		plan.ID, plan.UserID, plan.PlannedDate, string(jobIDs), string(plan.Status), string(plan.CurrentStep),
		string(mods), formatTime(plan.CreatedAt), formatTime(plan.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("active plan exists for user %s on %s: %w", plan.UserID, plan.PlannedDate, ErrConflict)
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

func (s *SQLitePlanStore) Get(ctx context.Context, planID string) (*contracts.DailyPlan, error) {
	query := planSelect + ` WHERE id = ?`
	return s.queryOne(ctx, query, planID)
}

func (s *SQLitePlanStore) GetActive(ctx context.Context, userID, date string) (*contracts.DailyPlan, error) {
	query := planSelect + ` WHERE user_id = ? AND planned_date = ? AND status != 'approved'`
	p, err := s.queryOne(ctx, query, userID, date)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (s *SQLitePlanStore) Update(ctx context.Context, planID string, patch PlanPatch) (*contracts.DailyPlan, error) {
	sets, args, err := buildPatch(patch, "?")
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("UPDATE daily_plans SET %s WHERE id = ?", strings.Join(sets, ", "))
	args = append(args, planID)
	if patch.ExpectStatus != nil {
		query += " AND status = ?"
		args = append(args, string(*patch.ExpectStatus))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Distinguish a missing plan from a lost guarded race.
		if _, err := s.Get(ctx, planID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("plan %s changed status concurrently: %w", planID, ErrConflict)
	}
	return s.Get(ctx, planID)
}

const planSelect = `
    SELECT id, user_id, planned_date, job_ids, status, current_step,
           dispatch_output, route_output, inventory_output, user_modifications, error_state,
           created_at, updated_at
    FROM daily_plans`

func (s *SQLitePlanStore) queryOne(ctx context.Context, query string, args ...any) (*contracts.DailyPlan, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	var (
		p             contracts.DailyPlan
		jobIDs        string
		status        string
		step          string
		dispatchJSON  sql.NullString
		routeJSON     sql.NullString
		inventoryJSON sql.NullString
		modsJSON      sql.NullString
		errorJSON     sql.NullString
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.PlannedDate, &jobIDs, &status, &step,
		&dispatchJSON, &routeJSON, &inventoryJSON, &modsJSON, &errorJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p.Status = contracts.PlanStatus(status)
	p.CurrentStep = contracts.PlanStep(step)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(jobIDs), &p.JobIDs); err != nil {
		return nil, fmt.Errorf("decode job ids for plan %s: %w", p.ID, err)
	}
	if err := decodeColumn(dispatchJSON, &p.Dispatch); err != nil {
		return nil, fmt.Errorf("decode dispatch output for plan %s: %w", p.ID, err)
	}
	if err := decodeColumn(routeJSON, &p.Route); err != nil {
		return nil, fmt.Errorf("decode route output for plan %s: %w", p.ID, err)
	}
	if err := decodeColumn(inventoryJSON, &p.Inventory); err != nil {
		return nil, fmt.Errorf("decode inventory output for plan %s: %w", p.ID, err)
	}
	if modsJSON.Valid && modsJSON.String != "" {
		if err := json.Unmarshal([]byte(modsJSON.String), &p.Modifications); err != nil {
			return nil, fmt.Errorf("decode modifications for plan %s: %w", p.ID, err)
		}
	}
	if err := decodeColumn(errorJSON, &p.ErrorState); err != nil {
		return nil, fmt.Errorf("decode error state for plan %s: %w", p.ID, err)
	}
	return &p, nil
}

func decodeColumn[T any](col sql.NullString, dst **T) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

// buildPatch renders the SET clause for a PlanPatch. placeholder is "?" for
// SQLite; the Postgres store rewrites to positional $n placeholders.
func buildPatch(patch PlanPatch, placeholder string) ([]string, []any, error) {
	var sets []string
	var args []any
	add := func(col string, val any) {
		sets = append(sets, col+" = "+placeholder)
		args = append(args, val)
	}
	addJSON := func(col string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", col, err)
		}
		add(col, string(data))
		return nil
	}

	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.CurrentStep != nil {
		add("current_step", string(*patch.CurrentStep))
	}
	if patch.Dispatch != nil {
		if err := addJSON("dispatch_output", patch.Dispatch); err != nil {
			return nil, nil, err
		}
	}
	if patch.Route != nil {
		if err := addJSON("route_output", patch.Route); err != nil {
			return nil, nil, err
		}
	}
	if patch.Inventory != nil {
		if err := addJSON("inventory_output", patch.Inventory); err != nil {
			return nil, nil, err
		}
	}
	if patch.Modifications != nil {
		if err := addJSON("user_modifications", patch.Modifications); err != nil {
			return nil, nil, err
		}
	}
	if patch.ErrorState != nil {
		if err := addJSON("error_state", patch.ErrorState); err != nil {
			return nil, nil, err
		}
	}
	if patch.ClearError {
		sets = append(sets, "error_state = NULL")
	}
	if patch.ClearOutputs {
		sets = append(sets,
			"dispatch_output = NULL", "route_output = NULL", "inventory_output = NULL")
		if err := addJSON("user_modifications", contracts.UserModifications{}); err != nil {
			return nil, nil, err
		}
	}
	add("updated_at", formatTime(time.Now().UTC()))
	return sets, args, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
