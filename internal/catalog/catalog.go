// Package catalog provides cached billing-code lookups.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/medaudit/internal/cache"
	"github.com/opensource-finance/medaudit/internal/domain"
)

// DefaultTTL is how long a code stays cached.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "billing_code:"

// Store loads billing codes from persistent storage.
type Store interface {
	GetBillingCodes(ctx context.Context, codes []string) (map[string]domain.BillingCode, error)
	SaveBillingCode(ctx context.Context, code *domain.BillingCode) error
}

// Catalog looks codes up through the cache before the store.
type Catalog struct {
	store Store
	cache domain.Cache
	ttl   time.Duration
}

// New creates a catalog. A nil cache disables caching.
func New(store Store, c domain.Cache, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Catalog{store: store, cache: c, ttl: ttl}
}

// Lookup returns the known codes among those requested. Unknown codes are
// absent from the result. Cache failures fall through to the store.
func (c *Catalog) Lookup(ctx context.Context, codes []string) (map[string]domain.BillingCode, error) {
	out := make(map[string]domain.BillingCode, len(codes))
	seen := make(map[string]struct{}, len(codes))
	var misses []string

	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if bc, ok := c.fromCache(ctx, code); ok {
			out[code] = bc
			continue
		}
		misses = append(misses, code)
	}

	if len(misses) == 0 {
		return out, nil
	}

	found, err := c.store.GetBillingCodes(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("failed to load billing codes: %w", err)
	}
	for code, bc := range found {
		out[code] = bc
		c.toCache(ctx, bc)
	}
	return out, nil
}

// Get returns one code or an error wrapping domain.ErrNotFound.
func (c *Catalog) Get(ctx context.Context, code string) (*domain.BillingCode, error) {
	found, err := c.Lookup(ctx, []string{code})
	if err != nil {
		return nil, err
	}
	bc, ok := found[strings.TrimSpace(code)]
	if !ok {
		return nil, fmt.Errorf("billing code %s: %w", code, domain.ErrNotFound)
	}
	return &bc, nil
}

// Save stores a code and refreshes its cache entry.
func (c *Catalog) Save(ctx context.Context, bc *domain.BillingCode) error {
	if err := c.store.SaveBillingCode(ctx, bc); err != nil {
		return err
	}
	c.toCache(ctx, *bc)
	return nil
}

func (c *Catalog) fromCache(ctx context.Context, code string) (domain.BillingCode, bool) {
	if c.cache == nil {
		return domain.BillingCode{}, false
	}
	bc, err := cache.GetJSON[domain.BillingCode](ctx, c.cache, keyPrefix+code)
	if err != nil {
		slog.WarnContext(ctx, "billing code cache read failed", "code", code, "error", err)
		return domain.BillingCode{}, false
	}
	if bc == nil {
		return domain.BillingCode{}, false
	}
	return *bc, true
}

func (c *Catalog) toCache(ctx context.Context, bc domain.BillingCode) {
	if c.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, c.cache, keyPrefix+bc.Code, bc, c.ttl); err != nil {
		slog.WarnContext(ctx, "billing code cache write failed", "code", bc.Code, "error", err)
	}
}
