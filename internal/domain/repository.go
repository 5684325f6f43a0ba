// Package domain defines the core interfaces and types for Kite.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Debt case operations. UpdateCase is a compare-and-swap on Version.
	CreateCase(ctx context.Context, tenantID string, c *DebtCase) error
	GetCase(ctx context.Context, tenantID string, caseID string) (*DebtCase, error)
	UpdateCase(ctx context.Context, tenantID string, c *DebtCase) error
	ListCases(ctx context.Context, tenantID string, filter CaseFilter) ([]*DebtCase, error)
	FindOpenCaseByInvoice(ctx context.Context, tenantID string, invoiceID string) (*DebtCase, error)

	// Escalation rule operations. SaveRule never touches execution counters.
	SaveRule(ctx context.Context, tenantID string, rule *EscalationRule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*EscalationRule, error)
	ListRules(ctx context.Context, tenantID string, activeOnly bool) ([]*EscalationRule, error)
	DeactivateRule(ctx context.Context, tenantID string, ruleID string) error
	ApplyReorder(ctx context.Context, tenantID string, changes []ReorderChange) error
	IncrementRuleExecution(ctx context.Context, tenantID string, ruleID string, at time.Time) error

	// Rule execution audit trail (append-only)
	SaveExecution(ctx context.Context, tenantID string, exec *RuleExecution) error
	ListExecutions(ctx context.Context, tenantID string, filter ExecutionFilter) ([]*RuleExecution, error)

	// Payment plans. UpdatePlan is a compare-and-swap on Version and
	// rewrites the given installments in the same transaction.
	CreatePlan(ctx context.Context, tenantID string, plan *PaymentPlan, installments []*Installment) error
	GetPlan(ctx context.Context, tenantID string, planID string) (*PaymentPlan, error)
	UpdatePlan(ctx context.Context, tenantID string, plan *PaymentPlan, installments []*Installment) error
	ListPlans(ctx context.Context, tenantID string, status PlanStatus) ([]*PaymentPlan, error)
	ListInstallments(ctx context.Context, tenantID string, planID string) ([]*Installment, error)

	// Voice calls
	SaveCall(ctx context.Context, tenantID string, call *Call) error
	GetCallByExternalID(ctx context.Context, tenantID string, externalID string) (*Call, error)
	ListCallsByCase(ctx context.Context, tenantID string, caseID string) ([]*Call, error)

	// ListTenantIDs returns every tenant with at least one debt case.
	// Used by background sweeps only.
	ListTenantIDs(ctx context.Context) ([]string, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CaseFilter narrows case listings. Zero values impose no constraint.
type CaseFilter struct {
	Status     CaseStatus
	OpenOnly   bool
	CustomerID string
	Limit      int
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
