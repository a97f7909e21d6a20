// Package graph reads provider relationships from neo4j for context
// enrichment and provider network risk.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/opensource-finance/medaudit/internal/domain"
)

// ErrDisabled is returned by Connect when the graph is switched off.
var ErrDisabled = errors.New("graph disabled")

// Runner executes a read query and returns each record keyed by column.
type Runner interface {
	Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// Client is a neo4j-backed Runner.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

// Connect opens a driver and verifies connectivity.
func Connect(ctx context.Context, cfg domain.GraphConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionLifetime = 30 * time.Minute
			c.MaxConnectionPoolSize = 50
			c.Log = neo4j.ConsoleLogger(neo4j.ERROR)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", cfg.URI, err)
	}

	return &Client{driver: driver, database: cfg.Database}, nil
}

// Run executes query on a reader and collects every record.
func (c *Client) Run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if c.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(c.database))
	}

	result, err := neo4j.ExecuteQuery(ctx, c.driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(result.Records))
	for _, rec := range result.Records {
		rows = append(rows, rec.AsMap())
	}
	return rows, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// Close releases the driver.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func stringVal(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}

func floatVal(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func intVal(row map[string]any, key string) int64 {
	switch v := row[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
