package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// BillRequest is the request body for POST /bills.
type BillRequest struct {
	ClaimID     string `json:"claimId" validate:"required,max=64"`
	PatientID   string `json:"patientId" validate:"required,max=64"`
	ProviderID  string `json:"providerId" validate:"required,max=64"`
	ProviderNPI string `json:"providerNpi" validate:"omitempty,len=10,numeric"`
	InsurerID   string `json:"insurerId" validate:"omitempty,max=64"`
	HospitalID  string `json:"hospitalId" validate:"omitempty,max=64"`

	ProcedureCode string `json:"procedureCode" validate:"omitempty,max=16"`
	DiagnosisCode string `json:"diagnosisCode" validate:"omitempty,max=16"`
	HCPCSCode     string `json:"hcpcsCode" validate:"omitempty,max=16"`
	NDCCode       string `json:"ndcCode" validate:"omitempty,max=16"`

	BilledAmount  *float64 `json:"billedAmount" validate:"omitempty,gte=0"`
	AllowedAmount *float64 `json:"allowedAmount" validate:"omitempty,gte=0"`
	PaidAmount    *float64 `json:"paidAmount" validate:"omitempty,gte=0"`

	DocumentationText     string    `json:"documentationText"`
	BillDate              time.Time `json:"billDate"`
	MedicalNecessityScore *float64  `json:"medicalNecessityScore" validate:"omitempty,gte=0,lte=1"`
}

// Bill converts the request into a pending bill.
func (r BillRequest) Bill() *domain.Bill {
	return &domain.Bill{
		ClaimID:               r.ClaimID,
		PatientID:             r.PatientID,
		ProviderID:            r.ProviderID,
		ProviderNPI:           r.ProviderNPI,
		InsurerID:             r.InsurerID,
		HospitalID:            r.HospitalID,
		ProcedureCode:         r.ProcedureCode,
		DiagnosisCode:         r.DiagnosisCode,
		HCPCSCode:             r.HCPCSCode,
		NDCCode:               r.NDCCode,
		BilledAmount:          r.BilledAmount,
		AllowedAmount:         r.AllowedAmount,
		PaidAmount:            r.PaidAmount,
		DocumentationText:     r.DocumentationText,
		BillDate:              r.BillDate,
		MedicalNecessityScore: r.MedicalNecessityScore,
		Status:                domain.BillPending,
	}
}

// BatchRequest is the request body for POST /evaluations/batch.
type BatchRequest struct {
	ClaimIDs  []string `json:"claimIds" validate:"required,min=1,max=1000,dive,required"`
	BatchSize int      `json:"batchSize" validate:"omitempty,min=1,max=100"`
}

// BillingCodeRequest is the request body for POST /billing-codes.
type BillingCodeRequest struct {
	Code        string `json:"code" validate:"required,max=16"`
	CodeType    string `json:"codeType" validate:"required,oneof=CPT ICD10 HCPCS NDC"`
	Description string `json:"description" validate:"max=512"`
	Status      string `json:"status" validate:"omitempty,oneof=active inactive"`
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	Scores map[string]float64 `json:"scores" validate:"required,dive,keys,oneof=rules_fraud_score ml_fraud_probability network_risk_score nlp_risk_score code_legality_score,endkeys,gte=0,lte=1"`
}

// WeightsRequest is the request body for PUT /scoring/weights.
type WeightsRequest struct {
	Rules   float64 `json:"rules" validate:"gte=0,lte=1"`
	ML      float64 `json:"ml" validate:"gte=0,lte=1"`
	Network float64 `json:"network" validate:"gte=0,lte=1"`
	NLP     float64 `json:"nlp" validate:"gte=0,lte=1"`
}

// ThresholdsRequest is the request body for PUT /scoring/thresholds.
type ThresholdsRequest struct {
	High   float64 `json:"high" validate:"gte=0,lte=1"`
	Medium float64 `json:"medium" validate:"gte=0,lte=1"`
}

// AmountsRequest is the request body for POST /anomaly/amounts.
type AmountsRequest struct {
	Amounts []float64 `json:"amounts" validate:"required,min=1,max=100000"`
}

// SpikesRequest is the request body for POST /anomaly/spikes.
type SpikesRequest struct {
	Timestamps []time.Time `json:"timestamps" validate:"required,min=1,max=100000"`
}

// CreateRuleRequest is the request body for POST /rules.
type CreateRuleRequest struct {
	ID          string            `json:"id" validate:"required,max=64"`
	Name        string            `json:"name" validate:"required,max=128"`
	Description string            `json:"description"`
	Expression  string            `json:"expression" validate:"required"`
	Bands       []domain.RuleBand `json:"bands" validate:"dive"`
	Priority    int               `json:"priority" validate:"omitempty,min=51,max=100"`
	Weight      float64           `json:"weight" validate:"gte=0"`
	Critical    bool              `json:"critical"`
	Fatal       bool              `json:"fatal"`
	Enabled     bool              `json:"enabled"`
}

// newValidator reports fields under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationMessages(err),
		})
		return false
	}
	return true
}

// validationMessages flattens validator errors to "field: tag" strings.
func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, msg)
	}
	return out
}
