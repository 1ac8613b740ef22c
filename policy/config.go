package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a validated, immutable set of policies plus the identity
// override table. Build one with ParseConfig, LoadConfig or NewConfig and
// hand it to a Resolver; reloads replace the whole value at once.
type Config struct {
	policies   map[string]*Policy
	overrides  map[string]string
	defaultKey string
}

type configFile struct {
	Policies  map[string]policySpec `yaml:"policies"`
	Overrides map[string]string     `yaml:"overrides"`
	Default   string                `yaml:"default"`
}

type policySpec struct {
	Algorithm       string  `yaml:"algorithm"`
	Limit           int64   `yaml:"limit"`
	WindowSeconds   float64 `yaml:"window_seconds"`
	RefillPerSecond float64 `yaml:"refill_per_second"`
	BurstCapacity   int64   `yaml:"burst_capacity"`
	Fallback        string  `yaml:"fallback"`
}

// ParseConfig parses and validates a YAML policy document.
func ParseConfig(data []byte) (*Config, error) {
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy configuration: %w", err)
	}

	policies := make([]Policy, 0, len(file.Policies))
	for key, spec := range file.Policies {
		p := Policy{
			Key:             key,
			Algorithm:       Algorithm(spec.Algorithm),
			Limit:           spec.Limit,
			Window:          time.Duration(spec.WindowSeconds * float64(time.Second)),
			RefillPerSecond: spec.RefillPerSecond,
			Burst:           spec.BurstCapacity,
			Fallback:        FallbackMode(spec.Fallback),
		}
		if p.Fallback == "" {
			p.Fallback = FailClosed
		}
		policies = append(policies, p)
	}

	return NewConfig(policies, file.Overrides, file.Default)
}

// LoadConfig reads and parses a YAML policy file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy configuration %q: %w", path, err)
	}
	return ParseConfig(data)
}

// NewConfig builds a Config from already constructed policies. Every
// policy, the override table and the default key are validated here so a
// bad configuration fails at startup instead of on the request path.
func NewConfig(policies []Policy, overrides map[string]string, defaultKey string) (*Config, error) {
	byKey := make(map[string]*Policy, len(policies))
	for i := range policies {
		p := policies[i]
		if p.Key == "" {
			return nil, fmt.Errorf("policy without a key")
		}
		if p.Fallback == "" {
			p.Fallback = FailClosed
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := byKey[p.Key]; dup {
			return nil, fmt.Errorf("duplicate policy %q", p.Key)
		}
		byKey[p.Key] = &p
	}

	if defaultKey == "" {
		return nil, fmt.Errorf("%w: no default policy configured", ErrNotFound)
	}
	if _, ok := byKey[defaultKey]; !ok {
		return nil, fmt.Errorf("%w: default policy %q is not defined", ErrNotFound, defaultKey)
	}

	copied := make(map[string]string, len(overrides))
	for identity, key := range overrides {
		if _, ok := byKey[key]; !ok {
			return nil, fmt.Errorf("override for %q points at undefined policy %q", identity, key)
		}
		copied[identity] = key
	}

	return &Config{
		policies:   byKey,
		overrides:  copied,
		defaultKey: defaultKey,
	}, nil
}

// Lookup maps an identity to its policy, falling back to the default.
func (c *Config) Lookup(identity string) (*Policy, error) {
	if key, ok := c.overrides[identity]; ok {
		if p, ok := c.policies[key]; ok {
			return p, nil
		}
	}
	if p, ok := c.policies[c.defaultKey]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: identity %q", ErrNotFound, identity)
}

// Policy returns the policy stored under the given key.
func (c *Config) Policy(key string) (*Policy, bool) {
	p, ok := c.policies[key]
	return p, ok
}
