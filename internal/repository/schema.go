package repository

// Schema definitions for the medaudit database.
// The same statements run on SQLite and PostgreSQL.

const schemaBills = `
CREATE TABLE IF NOT EXISTS bills (
    id TEXT PRIMARY KEY,
    claim_id TEXT NOT NULL UNIQUE,
    patient_id TEXT NOT NULL,
    provider_id TEXT NOT NULL,
    provider_npi TEXT,
    insurer_id TEXT,
    hospital_id TEXT,
    procedure_code TEXT,
    diagnosis_code TEXT,
    hcpcs_code TEXT,
    ndc_code TEXT,
    billed_amount REAL,
    allowed_amount REAL,
    paid_amount REAL,
    documentation_text TEXT,
    bill_date TIMESTAMP NOT NULL,
    medical_necessity_score REAL,
    fraud_score REAL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bills_patient ON bills(patient_id, bill_date);
CREATE INDEX IF NOT EXISTS idx_bills_provider ON bills(provider_id, bill_date);
CREATE INDEX IF NOT EXISTS idx_bills_status ON bills(status);
`

const schemaBillingCodes = `
CREATE TABLE IF NOT EXISTS billing_codes (
    code TEXT PRIMARY KEY,
    code_type TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// schemaComplianceChecks holds one audit row per non-skipped rule result.
const schemaComplianceChecks = `
CREATE TABLE IF NOT EXISTS compliance_checks (
    id TEXT PRIMARY KEY,
    bill_id TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    status TEXT NOT NULL,
    passed INTEGER NOT NULL,
    message TEXT,
    details TEXT,
    checked_at TIMESTAMP NOT NULL,
    checked_by TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_compliance_checks_claim ON compliance_checks(claim_id, checked_at);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    claim_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    fraud_score REAL NOT NULL,
    risk_score REAL,
    created_at TIMESTAMP NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_claim ON evaluations(claim_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_decision ON evaluations(decision);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 60,
    weight REAL NOT NULL DEFAULT 1.0,
    critical INTEGER NOT NULL DEFAULT 0,
    fatal INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBills,
		schemaBillingCodes,
		schemaComplianceChecks,
		schemaEvaluations,
		schemaRuleConfigs,
	}
}
