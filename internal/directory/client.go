// Package directory resolves prescriber ids to display names using the
// FHIR practitioner directory.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	fhir "github.com/drfirst/go-medsched/internal/fhir/r5"
	"github.com/drfirst/go-medsched/pkg/circuitbreaker"
)

// ErrUnknownPrescriber is returned when the directory has no such id.
var ErrUnknownPrescriber = errors.New("prescriber not found in directory")

// Config holds directory client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Breaker circuitbreaker.Config
}

// DefaultConfig returns defaults for baseURL
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
		Breaker: circuitbreaker.DefaultConfig("practitioner-directory"),
	}
}

// Client is an HTTP directory client guarded by a circuit breaker.
type Client struct {
	base    *url.URL
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// New creates a directory client
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("directory: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig("").Timeout
	}

	bc := cfg.Breaker
	if bc.Name == "" {
		bc = circuitbreaker.DefaultConfig("practitioner-directory")
		bc.OnStateChange = cfg.Breaker.OnStateChange
	}
	// A missing prescriber says nothing about the directory's health.
	bc.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrUnknownPrescriber)
	}
	breaker, err := circuitbreaker.New(bc, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Practitioner fetches one prescriber.
func (c *Client) Practitioner(ctx context.Context, id string) (*fhir.Practitioner, error) {
	return circuitbreaker.Call(ctx, c.breaker, func(ctx context.Context) (*fhir.Practitioner, error) {
		return c.fetch(ctx, id)
	})
}

// PrescriberName returns the display name of prescriber id.
func (c *Client) PrescriberName(ctx context.Context, id string) (string, error) {
	p, err := c.Practitioner(ctx, id)
	if err != nil {
		return "", err
	}
	return p.GetFullName(), nil
}

// Health reports the breaker state for health endpoints.
func (c *Client) Health() circuitbreaker.HealthStatus {
	return c.breaker.Health()
}

func (c *Client) fetch(ctx context.Context, id string) (*fhir.Practitioner, error) {
	u := c.base.JoinPath("Practitioner", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrescriber, id)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("directory returned %s", resp.Status)
	}

	var p fhir.Practitioner
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode practitioner: %w", err)
	}
	if p.ResourceType != "" && p.ResourceType != "Practitioner" {
		return nil, fmt.Errorf("directory returned a %s for %s", p.ResourceType, id)
	}
	if p.GetFullName() == "" {
		return nil, fmt.Errorf("%w: %s has no name", ErrUnknownPrescriber, id)
	}
	return &p, nil
}

// Static is an in-memory directory.
type Static map[string]string

func (s Static) PrescriberName(_ context.Context, id string) (string, error) {
	name, ok := s[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPrescriber, id)
	}
	return name, nil
}
