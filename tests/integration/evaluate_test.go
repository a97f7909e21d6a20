//go:build integration
// +build integration

// Package integration provides end-to-end tests for the medaudit bill
// evaluation service.
//
// These tests verify the COMPLETE evaluation pipeline over HTTP:
//
//	Bill → Context (history, billing codes) → Rule Chain → Decision → Risk Score
//
// Run with: MEDAUDIT_TEST_URL=http://localhost:8080 go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. BILL: one billed medical service (patient, provider, procedure and
// diagnosis codes, amounts, documentation, bill date).
//
// 2. RULE: an independent check. Rules run in ascending priority:
//   - 10: ICD-10 format, CPT validity, duplicate detection (critical + fatal)
//   - 15-25: documentation and medical necessity
//   - 30-35: procedure/patient frequency and the billed amount limit
//
// 3. EARLY TERMINATION: a critical rule that passes ends the chain with
// approval; a fatal rule that fails ends it with rejection.
//
// 4. DECISION: APPROVED, REVIEW_REQUIRED, PENDING (some rule lacked data)
// or REJECTED.
//
// 5. RISK: the chain's fraud score blended with the ML, network,
// documentation and code legality layers into a high/medium/low level.
//
// Every test uses fresh patient and provider ids so runs do not interfere.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
	RunID   string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("MEDAUDIT_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL: baseURL,
		RunID:   fmt.Sprintf("%d", time.Now().UnixNano()),
	}
}

// ============================================================================
// API Request/Response Types
// ============================================================================

// BillRequest is the body of POST /bills
type BillRequest struct {
	ClaimID           string    `json:"claimId"`
	PatientID         string    `json:"patientId"`
	ProviderID        string    `json:"providerId"`
	ProcedureCode     string    `json:"procedureCode,omitempty"`
	DiagnosisCode     string    `json:"diagnosisCode,omitempty"`
	BilledAmount      *float64  `json:"billedAmount,omitempty"`
	AllowedAmount     *float64  `json:"allowedAmount,omitempty"`
	DocumentationText string    `json:"documentationText,omitempty"`
	BillDate          time.Time `json:"billDate"`
}

// RuleResult is one entry of chainResult.results
type RuleResult struct {
	RuleID  string   `json:"ruleId"`
	Passed  *bool    `json:"passed"`
	Skipped bool     `json:"skipped"`
	Message string   `json:"message"`
	IsFatal bool     `json:"isFatal"`
	Score   *float64 `json:"score"`
}

// EvaluationResponse is what POST /bills/{claimID}/evaluate returns
type EvaluationResponse struct {
	ID          string `json:"id"`
	ClaimID     string `json:"claimId"`
	ChainResult struct {
		Results         []RuleResult `json:"results"`
		FinalDecision   string       `json:"finalDecision"`
		FraudScore      float64      `json:"fraudScore"`
		ComplianceScore float64      `json:"complianceScore"`
		Issues          []string     `json:"issues"`
		Warnings        []string     `json:"warnings"`
	} `json:"chainResult"`
	Risk *struct {
		FinalFraudScore float64 `json:"finalFraudScore"`
		RiskLevel       string  `json:"riskLevel"`
	} `json:"risk"`
}

func (e EvaluationResponse) result(ruleID string) (RuleResult, bool) {
	for _, r := range e.ChainResult.Results {
		if r.RuleID == ruleID {
			return r, true
		}
	}
	return RuleResult{}, false
}

// ============================================================================
// Test Helper Functions
// ============================================================================

const notes = "Established patient seen for hypertension follow-up. Blood pressure reviewed, medication adjusted, labs ordered."

var billDate = time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

func amount(v float64) *float64 { return &v }

func call(t *testing.T, config TestConfig, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func seedCodes(t *testing.T, config TestConfig) {
	t.Helper()
	for _, code := range []map[string]string{
		{"code": "99213", "codeType": "CPT", "description": "Office visit, established patient", "status": "active"},
		{"code": "I10", "codeType": "ICD10", "description": "Essential hypertension", "status": "active"},
	} {
		status, body := call(t, config, http.MethodPost, "/billing-codes", code)
		if status != http.StatusCreated {
			t.Fatalf("Failed to seed billing code %s: %d %s", code["code"], status, body)
		}
	}
}

func newBill(config TestConfig, suffix string) BillRequest {
	return BillRequest{
		ClaimID:           "CLM-" + config.RunID + "-" + suffix,
		PatientID:         "PAT-" + config.RunID,
		ProviderID:        "PRV-" + config.RunID,
		ProcedureCode:     "99213",
		DiagnosisCode:     "I10",
		BilledAmount:      amount(150),
		AllowedAmount:     amount(150),
		DocumentationText: notes,
		BillDate:          billDate,
	}
}

func submit(t *testing.T, config TestConfig, bill BillRequest) {
	t.Helper()
	status, body := call(t, config, http.MethodPost, "/bills", bill)
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201 submitting %s, got %d: %s", bill.ClaimID, status, body)
	}
}

func evaluate(t *testing.T, config TestConfig, claimID string) EvaluationResponse {
	t.Helper()
	status, body := call(t, config, http.MethodPost, "/bills/"+claimID+"/evaluate", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var result EvaluationResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, body)
	}
	return result
}

// ============================================================================
// SCENARIO 1: Clean bill, critical approval
// ============================================================================

func TestCleanBill_CriticalApproval(t *testing.T) {
	/*
	   SCENARIO: A well-formed bill with valid codes and no prior history.

	   EXPECTED BEHAVIOR:
	   - ICD10_FORMAT_VALIDATION: I10 is well formed → pass
	   - CPT_CODE_VALIDATION: 99213 is active in the catalog → pass
	   - DUPLICATE_DETECTION: no matching bills → pass; the rule is critical,
	     so the chain stops here

	   FINAL DECISION: APPROVED with only the priority-10 rules evaluated.
	*/
	config := getTestConfig()
	seedCodes(t, config)

	bill := newBill(config, "clean")
	submit(t, config, bill)
	result := evaluate(t, config, bill.ClaimID)

	if result.ChainResult.FinalDecision != "APPROVED" {
		t.Errorf("Expected APPROVED, got %s (results: %+v)", result.ChainResult.FinalDecision, result.ChainResult.Results)
	}
	if _, ran := result.result("AMOUNT_LIMIT"); ran {
		t.Error("Rules after a critical pass must not run")
	}
	if result.ChainResult.FraudScore != 0 {
		t.Errorf("Expected fraud score 0, got %.2f", result.ChainResult.FraudScore)
	}
	if result.Risk == nil {
		t.Fatal("Expected a composite risk score")
	}

	t.Logf("✓ Clean bill: decision=%s, risk=%s (%.2f)",
		result.ChainResult.FinalDecision, result.Risk.RiskLevel, result.Risk.FinalFraudScore)
}

// ============================================================================
// SCENARIO 2: Exact duplicate, fatal rejection
// ============================================================================

func TestExactDuplicate_Rejected(t *testing.T) {
	/*
	   SCENARIO: Two bills with the same patient, provider, procedure and
	   date under different claim ids.

	   EXPECTED BEHAVIOR:
	   - DUPLICATE_DETECTION fails with isFatal=true, score=1.0
	   - The chain stops; the message is reported as an issue

	   FINAL DECISION: REJECTED
	*/
	config := getTestConfig()
	seedCodes(t, config)

	submit(t, config, newBill(config, "original"))
	dup := newBill(config, "dup")
	submit(t, config, dup)

	result := evaluate(t, config, dup.ClaimID)

	if result.ChainResult.FinalDecision != "REJECTED" {
		t.Errorf("Expected REJECTED, got %s", result.ChainResult.FinalDecision)
	}
	r, ok := result.result("DUPLICATE_DETECTION")
	if !ok {
		t.Fatal("Expected a DUPLICATE_DETECTION result")
	}
	if !r.IsFatal || r.Passed == nil || *r.Passed {
		t.Errorf("Expected fatal failure, got %+v", r)
	}
	if r.Score == nil || *r.Score != 1.0 {
		t.Errorf("Expected score 1.0, got %v", r.Score)
	}
	if len(result.ChainResult.Issues) == 0 {
		t.Error("Expected the duplicate to be reported as an issue")
	}

	t.Logf("✓ Exact duplicate: decision=%s, issues=%v", result.ChainResult.FinalDecision, result.ChainResult.Issues)
}

// ============================================================================
// SCENARIO 3: Near duplicate, review required
// ============================================================================

func TestNearDuplicate_ReviewRequired(t *testing.T) {
	/*
	   SCENARIO: The same service billed again three days later.

	   EXPECTED BEHAVIOR:
	   - DUPLICATE_DETECTION fails non-fatally with score 0.3
	   - The chain continues; the remaining rules pass

	   FINAL DECISION: REVIEW_REQUIRED (1 failure <= passes)
	*/
	config := getTestConfig()
	seedCodes(t, config)

	earlier := newBill(config, "earlier")
	earlier.BillDate = billDate.AddDate(0, 0, -3)
	submit(t, config, earlier)
	current := newBill(config, "current")
	submit(t, config, current)

	result := evaluate(t, config, current.ClaimID)

	if result.ChainResult.FinalDecision != "REVIEW_REQUIRED" {
		t.Errorf("Expected REVIEW_REQUIRED, got %s (results: %+v)", result.ChainResult.FinalDecision, result.ChainResult.Results)
	}
	r, ok := result.result("DUPLICATE_DETECTION")
	if !ok {
		t.Fatal("Expected a DUPLICATE_DETECTION result")
	}
	if r.IsFatal || r.Score == nil || *r.Score != 0.3 {
		t.Errorf("Expected non-fatal failure with score 0.3, got %+v", r)
	}
	if _, ran := result.result("AMOUNT_LIMIT"); !ran {
		t.Error("Expected the chain to continue past a non-fatal failure")
	}
	if len(result.ChainResult.Warnings) == 0 {
		t.Error("Expected the near duplicate as a warning")
	}

	t.Logf("✓ Near duplicate: decision=%s, fraud=%.2f", result.ChainResult.FinalDecision, result.ChainResult.FraudScore)
}

// ============================================================================
// SCENARIO 4: Missing data, pending
// ============================================================================

func TestMissingDiagnosis_Pending(t *testing.T) {
	/*
	   SCENARIO: A bill with no diagnosis code and no history for its parties.

	   EXPECTED BEHAVIOR:
	   - ICD10_FORMAT_VALIDATION is skipped (missing diagnosis_code)
	   - DUPLICATE_DETECTION passes and ends the chain

	   FINAL DECISION: PENDING; skipped rules outrank the passes.
	*/
	config := getTestConfig()
	seedCodes(t, config)

	bill := newBill(config, "nodx")
	bill.DiagnosisCode = ""
	submit(t, config, bill)

	result := evaluate(t, config, bill.ClaimID)

	if result.ChainResult.FinalDecision != "PENDING" {
		t.Errorf("Expected PENDING, got %s", result.ChainResult.FinalDecision)
	}
	r, ok := result.result("ICD10_FORMAT_VALIDATION")
	if !ok || !r.Skipped || r.Passed != nil {
		t.Errorf("Expected a skipped ICD-10 result, got %+v", r)
	}

	t.Logf("✓ Missing diagnosis: decision=%s", result.ChainResult.FinalDecision)
}

// ============================================================================
// SCENARIO 5: Error handling
// ============================================================================

func TestUnknownClaim_NotFound(t *testing.T) {
	config := getTestConfig()

	status, body := call(t, config, http.MethodPost, "/bills/CLM-does-not-exist-"+config.RunID+"/evaluate", nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d: %s", status, body)
	}
}

func TestMissingPatient_ValidationError(t *testing.T) {
	config := getTestConfig()

	bill := newBill(config, "nopatient")
	bill.PatientID = ""
	status, body := call(t, config, http.MethodPost, "/bills", bill)
	if status != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d: %s", status, body)
	}
}

// ============================================================================
// SCENARIO 6: Batch evaluation
// ============================================================================

func TestBatch_ContinuesPastFailures(t *testing.T) {
	/*
	   SCENARIO: A batch of two stored bills and one unknown claim id.

	   EXPECTED BEHAVIOR: the unknown claim is reported as a failure and the
	   others are evaluated. processed/total = 2/3.
	*/
	config := getTestConfig()
	seedCodes(t, config)

	first := newBill(config, "batch-1")
	second := newBill(config, "batch-2")
	second.PatientID += "-b"
	second.ProviderID += "-b"
	submit(t, config, first)
	submit(t, config, second)

	status, body := call(t, config, http.MethodPost, "/evaluations/batch", map[string]any{
		"claimIds":  []string{first.ClaimID, "CLM-missing-" + config.RunID, second.ClaimID},
		"batchSize": 2,
	})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	var resp struct {
		Results []EvaluationResponse `json:"results"`
		Summary struct {
			Total     int `json:"total"`
			Processed int `json:"processed"`
			Failures  []struct {
				ClaimID string `json:"claimId"`
			} `json:"failures"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if resp.Summary.Processed != 2 || resp.Summary.Total != 3 {
		t.Errorf("Expected 2/3 processed, got %d/%d", resp.Summary.Processed, resp.Summary.Total)
	}
	if len(resp.Summary.Failures) != 1 {
		t.Errorf("Expected 1 failure, got %d", len(resp.Summary.Failures))
	}
	if len(resp.Results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(resp.Results))
	}

	t.Logf("✓ Batch: processed %d/%d", resp.Summary.Processed, resp.Summary.Total)
}

// ============================================================================
// SCENARIO 7: Composite risk scoring
// ============================================================================

func TestScore_NeutralInputs(t *testing.T) {
	/*
	   SCENARIO: Score with every layer at 0.5 and fully legal codes.

	   EXPECTED: 0.3*0.5 + 0.3*0.5 + 0.2*0.5 + 0.2*0.5 + 0.1*(1-1) = 0.5,
	   below the default medium threshold of 0.65 → low.
	*/
	config := getTestConfig()

	status, body := call(t, config, http.MethodPost, "/score", map[string]any{
		"scores": map[string]float64{
			"rules_fraud_score":    0.5,
			"ml_fraud_probability": 0.5,
			"network_risk_score":   0.5,
			"nlp_risk_score":       0.5,
			"code_legality_score":  1.0,
		},
	})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	var score struct {
		FinalFraudScore float64 `json:"finalFraudScore"`
		RiskLevel       string  `json:"riskLevel"`
	}
	if err := json.Unmarshal(body, &score); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if diff := score.FinalFraudScore - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected final score 0.5, got %v", score.FinalFraudScore)
	}
	if score.RiskLevel != "low" {
		t.Errorf("Expected low risk, got %s", score.RiskLevel)
	}
}

func TestUpdateWeights_RejectsBadSum(t *testing.T) {
	config := getTestConfig()

	status, body := call(t, config, http.MethodPut, "/scoring/weights", map[string]float64{
		"rules": 0.3, "ml": 0.3, "network": 0.2, "nlp": 0.1,
	})
	if status != http.StatusBadRequest {
		t.Errorf("Expected status 400 for weights summing to 0.9, got %d: %s", status, body)
	}
}

// ============================================================================
// SCENARIO 8: Audit trail
// ============================================================================

func TestComplianceChecksRecorded(t *testing.T) {
	config := getTestConfig()
	seedCodes(t, config)

	bill := newBill(config, "audit")
	submit(t, config, bill)
	result := evaluate(t, config, bill.ClaimID)

	status, body := call(t, config, http.MethodGet, "/bills/"+bill.ClaimID+"/compliance-checks", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var resp struct {
		Checks []struct {
			RuleID    string `json:"ruleId"`
			CheckedBy string `json:"checkedBy"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	evaluated := 0
	for _, r := range result.ChainResult.Results {
		if !r.Skipped {
			evaluated++
		}
	}
	if len(resp.Checks) != evaluated {
		t.Errorf("Expected %d compliance checks, got %d", evaluated, len(resp.Checks))
	}
	for _, c := range resp.Checks {
		if c.CheckedBy != "rules_engine" {
			t.Errorf("Expected checkedBy rules_engine, got %q", c.CheckedBy)
		}
	}

	status, _ = call(t, config, http.MethodGet, "/evaluations/"+result.ID, nil)
	if status != http.StatusOK {
		t.Errorf("Expected stored evaluation %s, got status %d", result.ID, status)
	}
}
