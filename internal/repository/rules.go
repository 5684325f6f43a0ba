package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

const ruleColumns = `
	id, tenant_id, name, description, conditions, actions, priority, active,
	execution_count, last_executed_at, created_at, updated_at`

// SaveRule inserts or updates a rule definition. Execution counters are
// written only on insert and never overwritten by an update.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.EscalationRule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	rule.TenantID = tenantID

	query := `
		INSERT INTO escalation_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			conditions = excluded.conditions,
			actions = excluded.actions,
			priority = excluded.priority,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		string(conditions), string(actions), rule.Priority, boolToInt(rule.Active),
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetRule retrieves a rule, active or not.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.EscalationRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM escalation_rules WHERE tenant_id = ? AND id = ?`
	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// ListRules returns rules in firing order: priority, then insertion order.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string, activeOnly bool) ([]*domain.EscalationRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM escalation_rules WHERE tenant_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY priority, created_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.EscalationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeactivateRule soft-deletes a rule by clearing its active flag.
func (r *SQLRepository) DeactivateRule(ctx context.Context, tenantID string, ruleID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `UPDATE escalation_rules SET active = 0, updated_at = ? WHERE tenant_id = ? AND id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ApplyReorder writes a renumbering plan atomically.
func (r *SQLRepository) ApplyReorder(ctx context.Context, tenantID string, changes []domain.ReorderChange) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	now := time.Now().UTC()
	query := r.rebind(`UPDATE escalation_rules SET priority = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`)

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, ch := range changes {
			res, err := tx.ExecContext(ctx, query, ch.NewPriority, now, tenantID, ch.RuleID)
			if err != nil {
				return err
			}
			if err := expectOne(res); err != nil {
				return fmt.Errorf("rule %s: %w", ch.RuleID, err)
			}
		}
		return nil
	})
}

// IncrementRuleExecution bumps the execution counter in a single statement
// so concurrent dispatches never lose an update.
func (r *SQLRepository) IncrementRuleExecution(ctx context.Context, tenantID string, ruleID string, at time.Time) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		UPDATE escalation_rules
		SET execution_count = execution_count + 1, last_executed_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	res, err := r.db.ExecContext(ctx, r.rebind(query), at.UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func scanRule(s scanner) (*domain.EscalationRule, error) {
	var rule domain.EscalationRule
	var conditions, actions string
	var active int
	var lastExecuted sql.NullTime

	if err := s.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&conditions, &actions, &rule.Priority, &active,
		&rule.ExecutionCount, &lastExecuted, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to parse conditions for rule %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to parse actions for rule %s: %w", rule.ID, err)
	}

	rule.Active = active == 1
	rule.LastExecutedAt = timePtr(lastExecuted)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}
