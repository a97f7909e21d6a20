package domain

import (
	"strings"
	"time"
)

// BillStatus is the lifecycle state of a bill.
type BillStatus string

const (
	BillPending      BillStatus = "pending"
	BillProcessing   BillStatus = "processing"
	BillVerified     BillStatus = "verified"
	BillFlagged      BillStatus = "flagged"
	BillInvestigated BillStatus = "investigated"
	BillRejected     BillStatus = "rejected"
	BillPaid         BillStatus = "paid"
)

// Bill is one billed medical service under evaluation.
// Empty strings, nil pointers and a zero BillDate mean the field is absent.
type Bill struct {
	// Identifiers
	ID          string `json:"id"`
	ClaimID     string `json:"claimId"`
	PatientID   string `json:"patientId"`
	ProviderID  string `json:"providerId"`
	ProviderNPI string `json:"providerNpi,omitempty"`
	InsurerID   string `json:"insurerId,omitempty"`
	HospitalID  string `json:"hospitalId,omitempty"`

	// Coding
	ProcedureCode string `json:"procedureCode"`
	DiagnosisCode string `json:"diagnosisCode"`
	HCPCSCode     string `json:"hcpcsCode,omitempty"`
	NDCCode       string `json:"ndcCode,omitempty"`

	// Financials
	BilledAmount  *float64 `json:"billedAmount,omitempty"`
	AllowedAmount *float64 `json:"allowedAmount,omitempty"`
	PaidAmount    *float64 `json:"paidAmount,omitempty"`

	DocumentationText     string     `json:"documentationText,omitempty"`
	BillDate              time.Time  `json:"billDate"`
	MedicalNecessityScore *float64   `json:"medicalNecessityScore,omitempty"`
	FraudScore            *float64   `json:"fraudScore,omitempty"`
	Status                BillStatus `json:"status"`
	CreatedAt             time.Time  `json:"createdAt"`
}

// BillField names a bill attribute a rule can require.
type BillField string

const (
	FieldClaimID               BillField = "claim_id"
	FieldPatientID             BillField = "patient_id"
	FieldProviderID            BillField = "provider_id"
	FieldProcedureCode         BillField = "procedure_code"
	FieldDiagnosisCode         BillField = "diagnosis_code"
	FieldBilledAmount          BillField = "billed_amount"
	FieldAllowedAmount         BillField = "allowed_amount"
	FieldDocumentationText     BillField = "documentation_text"
	FieldBillDate              BillField = "bill_date"
	FieldMedicalNecessityScore BillField = "medical_necessity_score"
)

// Has reports whether the bill carries a value for the field.
func (b *Bill) Has(f BillField) bool {
	switch f {
	case FieldClaimID:
		return b.ClaimID != ""
	case FieldPatientID:
		return b.PatientID != ""
	case FieldProviderID:
		return b.ProviderID != ""
	case FieldProcedureCode:
		return b.ProcedureCode != ""
	case FieldDiagnosisCode:
		return b.DiagnosisCode != ""
	case FieldBilledAmount:
		return b.BilledAmount != nil
	case FieldAllowedAmount:
		return b.AllowedAmount != nil
	case FieldDocumentationText:
		return b.DocumentationText != ""
	case FieldBillDate:
		return !b.BillDate.IsZero()
	case FieldMedicalNecessityScore:
		return b.MedicalNecessityScore != nil
	default:
		return false
	}
}

// Missing returns the fields from the list that the bill does not carry.
func (b *Bill) Missing(fields ...BillField) []BillField {
	var missing []BillField
	for _, f := range fields {
		if !b.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Codes returns the non-empty billing codes on the bill.
func (b *Bill) Codes() []string {
	var codes []string
	for _, c := range []string{b.ProcedureCode, b.DiagnosisCode, b.HCPCSCode, b.NDCCode} {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}

// Float returns a pointer to v. Handy for optional bill amounts.
func Float(v float64) *float64 {
	return &v
}

// CodeType classifies a billing code.
type CodeType string

const (
	CodeCPT   CodeType = "CPT"
	CodeICD10 CodeType = "ICD10"
	CodeHCPCS CodeType = "HCPCS"
	CodeNDC   CodeType = "NDC"
)

// BillingCode is one catalog entry.
type BillingCode struct {
	Code        string    `json:"code"`
	CodeType    CodeType  `json:"codeType"`
	Description string    `json:"description"`
	Status      string    `json:"status"` // "active" or "inactive"
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Active reports whether the code is billable.
func (c BillingCode) Active() bool {
	return c.Status == "active"
}
