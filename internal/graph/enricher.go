package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/opensource-finance/medaudit/internal/domain"
)

const providerNetworkQuery = `
MATCH (p:Provider {npi: $npi})-[:PROVIDES_AT]->(h:Hospital)
OPTIONAL MATCH (p)-[:INSURES]->(i:Insurer)
OPTIONAL MATCH (p)-[:CONTRACT_WITH]->(c2:Hospital)
OPTIONAL MATCH (p)-[:OWNS_FACILITY]->(o:Hospital)
RETURN p.name AS provider_name,
       p.specialty AS specialty,
       h.name AS hospital_name,
       i.name AS insurer_name,
       c2.name AS contracted_hospital,
       o.name AS owned_hospital
LIMIT 10`

const regulationsQuery = `
MATCH (r:Regulation)-[:APPLIES_TO]->(:Bill {claim_id: $claim_id})
RETURN r.code AS code, r.name AS name, r.category AS category, r.is_active AS is_active
ORDER BY r.category`

// Enricher attaches provider network and regulation summaries to a context.
type Enricher struct {
	runner Runner
}

// NewEnricher creates an enricher over runner.
func NewEnricher(runner Runner) *Enricher {
	return &Enricher{runner: runner}
}

// Enrich fills ec with whatever the graph returns. Each lookup fails
// independently; the returned error joins the failures and ec keeps the parts
// that succeeded.
func (e *Enricher) Enrich(ctx context.Context, bill *domain.Bill, ec *domain.EvalContext) error {
	var errs []error

	if npi := providerKey(bill); npi != "" {
		network, err := e.ProviderNetwork(ctx, npi)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider network: %w", err))
		} else if network != nil {
			ec.ProviderNetwork = network
		}
	}

	if bill.ClaimID != "" {
		regs, err := e.Regulations(ctx, bill.ClaimID)
		if err != nil {
			errs = append(errs, fmt.Errorf("regulations: %w", err))
		} else if len(regs) > 0 {
			ec.Regulations = regs
		}
	}

	return errors.Join(errs...)
}

// ProviderNetwork returns the first relationship row for a provider, or nil
// when the provider has none.
func (e *Enricher) ProviderNetwork(ctx context.Context, npi string) (*domain.ProviderNetwork, error) {
	rows, err := e.runner.Run(ctx, providerNetworkQuery, map[string]any{"npi": npi})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	return &domain.ProviderNetwork{
		ProviderName:       stringVal(row, "provider_name"),
		Specialty:          stringVal(row, "specialty"),
		HospitalName:       stringVal(row, "hospital_name"),
		InsurerName:        stringVal(row, "insurer_name"),
		ContractedHospital: stringVal(row, "contracted_hospital"),
		OwnedHospital:      stringVal(row, "owned_hospital"),
	}, nil
}

// Regulations lists regulations linked to a claim, ordered by category.
func (e *Enricher) Regulations(ctx context.Context, claimID string) ([]domain.Regulation, error) {
	rows, err := e.runner.Run(ctx, regulationsQuery, map[string]any{"claim_id": claimID})
	if err != nil {
		return nil, err
	}

	regs := make([]domain.Regulation, 0, len(rows))
	for _, row := range rows {
		active, _ := row["is_active"].(bool)
		regs = append(regs, domain.Regulation{
			Code:     stringVal(row, "code"),
			Name:     stringVal(row, "name"),
			Category: stringVal(row, "category"),
			Active:   active,
		})
	}
	return regs, nil
}

// providerKey prefers the NPI and falls back to the provider ID.
func providerKey(bill *domain.Bill) string {
	if bill.ProviderNPI != "" {
		return bill.ProviderNPI
	}
	return bill.ProviderID
}
