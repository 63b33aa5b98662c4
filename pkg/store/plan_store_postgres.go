package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fieldops/dayplan/pkg/contracts"

	"github.com/lib/pq"
)

// PostgresPlanStore is a durable PlanStore for multi-instance deployments.
// Schema management is external (migrations); see migrate() in the SQLite
// store for the equivalent layout.
type PostgresPlanStore struct {
	db *sql.DB
}

func NewPostgresPlanStore(db *sql.DB) *PostgresPlanStore {
	return &PostgresPlanStore{db: db}
}

func (s *PostgresPlanStore) Create(ctx context.Context, plan *contracts.DailyPlan) error {
	jobIDs, err := json.Marshal(plan.JobIDs)
	if err != nil {
		return fmt.Errorf("marshal job ids: %w", err)
	}
	mods, err := json.Marshal(plan.Modifications)
	if err != nil {
		return fmt.Errorf("marshal modifications: %w", err)
	}

	query := `
		INSERT INTO daily_plans (id, user_id, planned_date, job_ids, status, current_step, user_modifications, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		plan.ID, plan.UserID, plan.PlannedDate, string(jobIDs), string(plan.Status), string(plan.CurrentStep),
		string(mods), plan.CreatedAt, plan.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("active plan exists for user %s on %s: %w", plan.UserID, plan.PlannedDate, ErrConflict)
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

func (s *PostgresPlanStore) Get(ctx context.Context, planID string) (*contracts.DailyPlan, error) {
	query := planSelect + ` WHERE id = $1`
	return s.queryOne(ctx, query, planID)
}

func (s *PostgresPlanStore) GetActive(ctx context.Context, userID, date string) (*contracts.DailyPlan, error) {
	query := planSelect + ` WHERE user_id = $1 AND planned_date = $2 AND status != 'approved'`
	p, err := s.queryOne(ctx, query, userID, date)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (s *PostgresPlanStore) Update(ctx context.Context, planID string, patch PlanPatch) (*contracts.DailyPlan, error) {
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
	query = numberPlaceholders(query)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := s.Get(ctx, planID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("plan %s changed status concurrently: %w", planID, ErrConflict)
	}
	return s.Get(ctx, planID)
}

func (s *PostgresPlanStore) queryOne(ctx context.Context, query string, args ...any) (*contracts.DailyPlan, error) {
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
	)
	err := row.Scan(&p.ID, &p.UserID, &p.PlannedDate, &jobIDs, &status, &step,
		&dispatchJSON, &routeJSON, &inventoryJSON, &modsJSON, &errorJSON, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p.Status = contracts.PlanStatus(status)
	p.CurrentStep = contracts.PlanStep(step)
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

// numberPlaceholders rewrites "?" placeholders to Postgres $1..$n form.
func numberPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
