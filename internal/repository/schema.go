package repository

// Schema definitions for the Kite database.
// Compatible with both SQLite and PostgreSQL. Amounts are decimal strings,
// structured fields are JSON text and booleans are integers.

const schemaDebtCases = `
CREATE TABLE IF NOT EXISTS debt_cases (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    invoice_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    customer_name TEXT NOT NULL DEFAULT '',
    customer_email TEXT NOT NULL DEFAULT '',
    customer_phone TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    priority TEXT NOT NULL,
    total_amount TEXT NOT NULL,
    paid_amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    due_date TIMESTAMP NOT NULL,
    days_overdue INTEGER NOT NULL DEFAULT 0,
    assigned_agent TEXT NOT NULL DEFAULT '',
    campaign_id TEXT NOT NULL DEFAULT '',
    last_contact_at TIMESTAMP,
    next_action_at TIMESTAMP,
    notes TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_debt_cases_status ON debt_cases(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_debt_cases_invoice ON debt_cases(tenant_id, invoice_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_debt_cases_open_invoice ON debt_cases(tenant_id, invoice_id)
    WHERE status NOT IN ('resolved', 'closed', 'written_off');
CREATE INDEX IF NOT EXISTS idx_debt_cases_customer ON debt_cases(tenant_id, customer_id);
`

const schemaEscalationRules = `
CREATE TABLE IF NOT EXISTS escalation_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    conditions TEXT NOT NULL,
    actions TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    execution_count INTEGER NOT NULL DEFAULT 0,
    last_executed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_escalation_rules_active ON escalation_rules(tenant_id, active, priority);
`

const schemaRuleExecutions = `
CREATE TABLE IF NOT EXISTS rule_executions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    case_id TEXT NOT NULL,
    executed_at TIMESTAMP NOT NULL,
    actions TEXT NOT NULL,
    outcomes TEXT NOT NULL,
    result TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_rule_executions_rule ON rule_executions(tenant_id, rule_id, executed_at);
CREATE INDEX IF NOT EXISTS idx_rule_executions_case ON rule_executions(tenant_id, case_id, executed_at);
`

const schemaPaymentPlans = `
CREATE TABLE IF NOT EXISTS payment_plans (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    case_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    currency TEXT NOT NULL,
    total_amount TEXT NOT NULL,
    down_payment TEXT NOT NULL,
    paid_amount TEXT NOT NULL,
    remaining_amount TEXT NOT NULL,
    number_of_installments INTEGER NOT NULL,
    frequency TEXT NOT NULL,
    start_date TIMESTAMP NOT NULL,
    accepted_at TIMESTAMP,
    completed_at TIMESTAMP,
    defaulted_at TIMESTAMP,
    cancelled_at TIMESTAMP,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_payment_plans_status ON payment_plans(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_payment_plans_case ON payment_plans(tenant_id, case_id);
`

const schemaInstallments = `
CREATE TABLE IF NOT EXISTS installments (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    plan_id TEXT NOT NULL,
    installment_number INTEGER NOT NULL,
    amount TEXT NOT NULL,
    paid_amount TEXT NOT NULL,
    due_date TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    paid_at TIMESTAMP,
    PRIMARY KEY (tenant_id, id),
    UNIQUE (tenant_id, plan_id, installment_number)
);

CREATE INDEX IF NOT EXISTS idx_installments_due ON installments(tenant_id, status, due_date);
`

const schemaCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    case_id TEXT NOT NULL,
    external_id TEXT NOT NULL DEFAULT '',
    agent_id TEXT NOT NULL DEFAULT '',
    phone_number TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    transcript TEXT NOT NULL DEFAULT '',
    sentiment TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL DEFAULT '',
    duration_secs INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP,
    ended_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_calls_external ON calls(tenant_id, external_id);
CREATE INDEX IF NOT EXISTS idx_calls_case ON calls(tenant_id, case_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDebtCases,
		schemaEscalationRules,
		schemaRuleExecutions,
		schemaPaymentPlans,
		schemaInstallments,
		schemaCalls,
	}
}
