package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fitpulse/coach-gateway/internal/credit"
)

// Policy captures the credit rules applied to chat traffic. It lives in a
// YAML file beside the runtime INI config so operators can tune pricing
// behaviour without touching deployment settings.
type Policy struct {
	// Model is the upstream model id used for every chat turn.
	Model string `yaml:"model"`
	// DefaultGrant is the balance seeded on first use.
	DefaultGrant int64 `yaml:"default_grant"`
	// RateLimit throttles chat requests per user.
	RateLimit RateLimit `yaml:"rate_limit,omitempty"`
}

// RateLimit holds per-user throttle settings.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             float64 `yaml:"burst"`
}

// Default returns the policy applied when no file is configured.
func Default() Policy {
	return Policy{
		Model:        "gpt-3.5-turbo",
		DefaultGrant: credit.DefaultGrant,
		RateLimit: RateLimit{
			RequestsPerSecond: 1,
			Burst:             5,
		},
	}
}

// Load reads a policy file, filling unset fields from Default. An empty path
// or a missing file yields the defaults.
func Load(path string) (Policy, error) {
	pol := Default()
	if strings.TrimSpace(path) == "" {
		return pol, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pol, nil
		}
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}

	if err := yaml.Unmarshal(data, &pol); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := pol.Validate(); err != nil {
		return Policy{}, err
	}
	return pol, nil
}

// Validate rejects unusable policies.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Model) == "" {
		return errors.New("policy: model must not be empty")
	}
	if p.DefaultGrant < 0 {
		return fmt.Errorf("policy: default_grant must not be negative, got %d", p.DefaultGrant)
	}
	if p.RateLimit.RequestsPerSecond < 0 || p.RateLimit.Burst < 0 {
		return errors.New("policy: rate limit values must not be negative")
	}
	return nil
}
