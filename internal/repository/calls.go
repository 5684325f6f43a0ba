package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

const callColumns = `
	id, tenant_id, case_id, external_id, agent_id, phone_number, status, transcript,
	sentiment, outcome, duration_secs, started_at, ended_at, created_at, updated_at`

// SaveCall inserts or fully updates a call row.
func (r *SQLRepository) SaveCall(ctx context.Context, tenantID string, call *domain.Call) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	now := time.Now().UTC()
	if call.CreatedAt.IsZero() {
		call.CreatedAt = now
	}
	call.UpdatedAt = now
	call.TenantID = tenantID

	query := `
		INSERT INTO calls (` + callColumns + `) VALUES (` + placeholders(15) + `)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			external_id = excluded.external_id,
			status = excluded.status,
			transcript = excluded.transcript,
			sentiment = excluded.sentiment,
			outcome = excluded.outcome,
			duration_secs = excluded.duration_secs,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		call.ID, tenantID, call.CaseID, call.ExternalID, call.AgentID, call.PhoneNumber,
		string(call.Status), call.Transcript, call.Sentiment, call.Outcome, call.DurationSecs,
		nullableTime(call.StartedAt), nullableTime(call.EndedAt), call.CreatedAt, call.UpdatedAt,
	)
	return err
}

// GetCallByExternalID finds a call by the provider's conversation id.
func (r *SQLRepository) GetCallByExternalID(ctx context.Context, tenantID string, externalID string) (*domain.Call, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + callColumns + ` FROM calls WHERE tenant_id = ? AND external_id = ? ORDER BY created_at DESC LIMIT 1`
	call, err := scanCall(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return call, err
}

// ListCallsByCase returns a case's calls oldest first.
func (r *SQLRepository) ListCallsByCase(ctx context.Context, tenantID string, caseID string) ([]*domain.Call, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + callColumns + ` FROM calls WHERE tenant_id = ? AND case_id = ? ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

func scanCall(s scanner) (*domain.Call, error) {
	var c domain.Call
	var status string
	var started, ended sql.NullTime

	if err := s.Scan(
		&c.ID, &c.TenantID, &c.CaseID, &c.ExternalID, &c.AgentID, &c.PhoneNumber, &status, &c.Transcript,
		&c.Sentiment, &c.Outcome, &c.DurationSecs, &started, &ended, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}

	c.Status = domain.CallStatus(status)
	c.StartedAt = timePtr(started)
	c.EndedAt = timePtr(ended)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}
