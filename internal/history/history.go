// Package history supplies the comparison bills that frequency, duplicate
// and anomaly checks run against.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// DefaultLookback covers the widest rule window.
const DefaultLookback = 90 * 24 * time.Hour

// Store lists bills involving a patient or a provider.
type Store interface {
	ListBillsByParties(ctx context.Context, patientID, providerID string, since time.Time) ([]*domain.Bill, error)
}

// Service loads historical bills for a bill under evaluation.
type Service struct {
	store    Store
	lookback time.Duration
	now      func() time.Time
}

// NewService creates a history provider. lookbackDays <= 0 uses 90 days.
func NewService(store Store, lookbackDays int) *Service {
	lookback := DefaultLookback
	if lookbackDays > 0 {
		lookback = time.Duration(lookbackDays) * 24 * time.Hour
	}
	return &Service{store: store, lookback: lookback, now: time.Now}
}

// ForBill returns bills sharing the patient or the provider dated within the
// lookback before the bill date. Rules apply their own scoping and windows.
// The bill itself is excluded.
func (s *Service) ForBill(ctx context.Context, bill *domain.Bill) ([]*domain.Bill, error) {
	if bill.PatientID == "" && bill.ProviderID == "" {
		return nil, fmt.Errorf("bill %s has neither patient nor provider", bill.ClaimID)
	}
	if s.store == nil {
		return nil, fmt.Errorf("no data source available")
	}

	ref := bill.BillDate
	if ref.IsZero() {
		ref = s.now()
	}
	since := ref.Add(-s.lookback)

	bills, err := s.store.ListBillsByParties(ctx, bill.PatientID, bill.ProviderID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list historical bills: %w", err)
	}

	out := bills[:0]
	for _, b := range bills {
		if b.ClaimID != bill.ClaimID {
			out = append(out, b)
		}
	}
	return out, nil
}
