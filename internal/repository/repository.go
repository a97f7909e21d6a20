// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/medaudit/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const billColumns = `
	id, claim_id, patient_id, provider_id, provider_npi, insurer_id, hospital_id,
	procedure_code, diagnosis_code, hcpcs_code, ndc_code,
	billed_amount, allowed_amount, paid_amount, documentation_text,
	bill_date, medical_necessity_score, fraud_score, status, created_at`

// SaveBill inserts a bill or replaces the stored bill with the same claim ID.
// A missing ID, status or creation time is filled in before writing.
func (r *SQLRepository) SaveBill(ctx context.Context, bill *domain.Bill) error {
	if bill == nil || bill.ClaimID == "" {
		return fmt.Errorf("%w: claimID is required", ErrInvalidInput)
	}
	if bill.PatientID == "" || bill.ProviderID == "" {
		return fmt.Errorf("%w: patientID and providerID are required", ErrInvalidInput)
	}
	if bill.ID == "" {
		bill.ID = uuid.New().String()
	}
	if bill.Status == "" {
		bill.Status = domain.BillPending
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO bills (` + billColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(claim_id) DO UPDATE SET
			patient_id = excluded.patient_id,
			provider_id = excluded.provider_id,
			provider_npi = excluded.provider_npi,
			insurer_id = excluded.insurer_id,
			hospital_id = excluded.hospital_id,
			procedure_code = excluded.procedure_code,
			diagnosis_code = excluded.diagnosis_code,
			hcpcs_code = excluded.hcpcs_code,
			ndc_code = excluded.ndc_code,
			billed_amount = excluded.billed_amount,
			allowed_amount = excluded.allowed_amount,
			paid_amount = excluded.paid_amount,
			documentation_text = excluded.documentation_text,
			bill_date = excluded.bill_date,
			medical_necessity_score = excluded.medical_necessity_score,
			fraud_score = excluded.fraud_score,
			status = excluded.status
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		bill.ID, bill.ClaimID, bill.PatientID, bill.ProviderID,
		bill.ProviderNPI, bill.InsurerID, bill.HospitalID,
		bill.ProcedureCode, bill.DiagnosisCode, bill.HCPCSCode, bill.NDCCode,
		nullFloat(bill.BilledAmount), nullFloat(bill.AllowedAmount), nullFloat(bill.PaidAmount),
		bill.DocumentationText, bill.BillDate.UTC(),
		nullFloat(bill.MedicalNecessityScore), nullFloat(bill.FraudScore),
		string(bill.Status), bill.CreatedAt.UTC(),
	)
	return err
}

// GetBillByClaimID retrieves a bill by its claim identifier.
func (r *SQLRepository) GetBillByClaimID(ctx context.Context, claimID string) (*domain.Bill, error) {
	if claimID == "" {
		return nil, fmt.Errorf("%w: claimID is required", ErrInvalidInput)
	}

	query := `SELECT ` + billColumns + ` FROM bills WHERE claim_id = ?`

	bill, err := scanBill(r.db.QueryRowContext(ctx, r.rebind(query), claimID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// ListBillsByParties retrieves bills for the patient or the provider dated on
// or after since, newest first. An empty party ID matches nothing.
func (r *SQLRepository) ListBillsByParties(ctx context.Context, patientID, providerID string, since time.Time) ([]*domain.Bill, error) {
	if patientID == "" && providerID == "" {
		return nil, fmt.Errorf("%w: patientID or providerID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + billColumns + `
		FROM bills
		WHERE ((? <> '' AND patient_id = ?) OR (? <> '' AND provider_id = ?))
		  AND bill_date >= ?
		ORDER BY bill_date DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query),
		patientID, patientID, providerID, providerID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []*domain.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}

	return bills, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (*domain.Bill, error) {
	var b domain.Bill
	var npi, insurer, hospital, proc, diag, hcpcs, ndc, docs sql.NullString
	var billed, allowed, paid, necessity, fraud sql.NullFloat64
	var status string

	if err := row.Scan(
		&b.ID, &b.ClaimID, &b.PatientID, &b.ProviderID,
		&npi, &insurer, &hospital,
		&proc, &diag, &hcpcs, &ndc,
		&billed, &allowed, &paid, &docs,
		&b.BillDate, &necessity, &fraud, &status, &b.CreatedAt,
	); err != nil {
		return nil, err
	}

	b.ProviderNPI = npi.String
	b.InsurerID = insurer.String
	b.HospitalID = hospital.String
	b.ProcedureCode = proc.String
	b.DiagnosisCode = diag.String
	b.HCPCSCode = hcpcs.String
	b.NDCCode = ndc.String
	b.DocumentationText = docs.String
	b.BilledAmount = floatPtr(billed)
	b.AllowedAmount = floatPtr(allowed)
	b.PaidAmount = floatPtr(paid)
	b.MedicalNecessityScore = floatPtr(necessity)
	b.FraudScore = floatPtr(fraud)
	b.Status = domain.BillStatus(status)
	b.BillDate = b.BillDate.UTC()
	b.CreatedAt = b.CreatedAt.UTC()

	return &b, nil
}

// SaveBillingCode inserts or updates a catalog entry.
func (r *SQLRepository) SaveBillingCode(ctx context.Context, code *domain.BillingCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	if code.Status == "" {
		code.Status = "active"
	}
	if code.UpdatedAt.IsZero() {
		code.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO billing_codes (code, code_type, description, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			code_type = excluded.code_type,
			description = excluded.description,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		code.Code, string(code.CodeType), code.Description, code.Status, code.UpdatedAt.UTC())
	return err
}

// GetBillingCodes returns the catalog entries found for codes, keyed by code.
// Unknown codes are absent from the map.
func (r *SQLRepository) GetBillingCodes(ctx context.Context, codes []string) (map[string]domain.BillingCode, error) {
	found := make(map[string]domain.BillingCode, len(codes))
	if len(codes) == 0 {
		return found, nil
	}

	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}

	query := `
		SELECT code, code_type, description, status, updated_at
		FROM billing_codes
		WHERE code IN (` + placeholders(len(codes)) + `)
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.BillingCode
		var codeType string
		var desc sql.NullString
		if err := rows.Scan(&c.Code, &codeType, &desc, &c.Status, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.CodeType = domain.CodeType(codeType)
		c.Description = desc.String
		found[c.Code] = c
	}

	return found, rows.Err()
}

// SaveComplianceChecks writes all checks in one transaction.
func (r *SQLRepository) SaveComplianceChecks(ctx context.Context, checks []*domain.ComplianceCheck) error {
	if len(checks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO compliance_checks (
			id, bill_id, claim_id, rule_id, rule_name, status, passed,
			message, details, checked_at, checked_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for _, c := range checks {
		if c.ClaimID == "" || c.RuleID == "" {
			return fmt.Errorf("%w: claimID and ruleID are required", ErrInvalidInput)
		}
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.CheckedAt.IsZero() {
			c.CheckedAt = time.Now().UTC()
		}
		details, _ := json.Marshal(c.Details)

		if _, err := tx.ExecContext(ctx, query,
			c.ID, c.BillID, c.ClaimID, c.RuleID, c.RuleName,
			string(c.Status), boolInt(c.Passed), c.Message, string(details),
			c.CheckedAt.UTC(), c.CheckedBy,
		); err != nil {
			return fmt.Errorf("failed to save compliance check %s: %w", c.RuleID, err)
		}
	}

	return tx.Commit()
}

// ListComplianceChecks returns the checks recorded for a claim, oldest first.
func (r *SQLRepository) ListComplianceChecks(ctx context.Context, claimID string) ([]*domain.ComplianceCheck, error) {
	if claimID == "" {
		return nil, fmt.Errorf("%w: claimID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, bill_id, claim_id, rule_id, rule_name, status, passed,
			   message, details, checked_at, checked_by
		FROM compliance_checks
		WHERE claim_id = ?
		ORDER BY checked_at, rule_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []*domain.ComplianceCheck
	for rows.Next() {
		var c domain.ComplianceCheck
		var status string
		var passed int
		var message, details sql.NullString

		if err := rows.Scan(
			&c.ID, &c.BillID, &c.ClaimID, &c.RuleID, &c.RuleName, &status, &passed,
			&message, &details, &c.CheckedAt, &c.CheckedBy,
		); err != nil {
			return nil, err
		}

		c.Status = domain.ComplianceStatus(status)
		c.Passed = passed == 1
		c.Message = message.String
		if details.String != "" && details.String != "null" {
			json.Unmarshal([]byte(details.String), &c.Details)
		}
		checks = append(checks, &c)
	}

	return checks, rows.Err()
}

// SaveEvaluation stores an evaluation result. The full result is kept as a
// JSON payload next to the indexed summary columns.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, eval *domain.EvaluationResult) error {
	if eval == nil || eval.ID == "" || eval.ClaimID == "" {
		return fmt.Errorf("%w: evaluation ID and claimID are required", ErrInvalidInput)
	}

	payload, err := json.Marshal(eval)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation: %w", err)
	}

	var risk sql.NullFloat64
	if eval.Risk != nil {
		risk = sql.NullFloat64{Float64: eval.Risk.FinalFraudScore, Valid: true}
	}

	query := `
		INSERT INTO evaluations (id, claim_id, decision, fraud_score, risk_score, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, eval.ClaimID, string(eval.Chain.FinalDecision), eval.Chain.FraudScore,
		risk, eval.CreatedAt.UTC(), string(payload),
	)
	return err
}

// GetEvaluation retrieves an evaluation result by ID.
func (r *SQLRepository) GetEvaluation(ctx context.Context, evalID string) (*domain.EvaluationResult, error) {
	query := `SELECT payload FROM evaluations WHERE id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), evalID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var eval domain.EvaluationResult
	if err := json.Unmarshal([]byte(payload), &eval); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation %s: %w", evalID, err)
	}
	return &eval, nil
}

// SaveRuleConfig stores an expression rule configuration.
// Saving the same ID and version again updates it in place.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" || rule.Version == "" {
		return fmt.Errorf("%w: rule ID and version are required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, bands,
			priority, weight, critical, fatal, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			priority = excluded.priority,
			weight = excluded.weight,
			critical = excluded.critical,
			fatal = excluded.fatal,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version, rule.Expression, string(bands),
		rule.Priority, rule.Weight, boolInt(rule.Critical), boolInt(rule.Fatal), boolInt(rule.Enabled),
		now, now,
	)
	return err
}

const ruleConfigColumns = `id, name, description, version, expression, bands, priority, weight, critical, fatal, enabled`

// GetRuleConfig retrieves the latest enabled version of a rule configuration.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	query := `
		SELECT ` + ruleConfigColumns + `
		FROM rule_configs
		WHERE id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	cfg, err := scanRuleConfig(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListRuleConfigs retrieves all enabled rule configurations in priority order.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT ` + ruleConfigColumns + `
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY priority, id, version DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRuleConfig(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, cfg)
	}

	return rules, rows.Err()
}

func scanRuleConfig(row rowScanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var desc sql.NullString
	var bands string
	var critical, fatal, enabled int

	if err := row.Scan(
		&cfg.ID, &cfg.Name, &desc, &cfg.Version, &cfg.Expression, &bands,
		&cfg.Priority, &cfg.Weight, &critical, &fatal, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Description = desc.String
	cfg.Critical = critical == 1
	cfg.Fatal = fatal == 1
	cfg.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(bands), &cfg.Bands); err != nil {
		return nil, fmt.Errorf("rule %s has malformed bands: %w", cfg.ID, err)
	}
	return &cfg, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
