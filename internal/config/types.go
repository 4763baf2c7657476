// Package config provides startup configuration for the reward core: one
// verifier record per verifier instance, one governance policy per
// environment, one workflow definition per workflow type. Configuration is
// loaded once, validated eagerly, and shared read-only for the lifetime of
// the process; a malformed policy refuses to start.
package config

import (
	"fmt"

	"github.com/fyrsmithlabs/rubric/internal/governance"
	"github.com/fyrsmithlabs/rubric/internal/logging"
	"github.com/fyrsmithlabs/rubric/internal/verifier"
	"github.com/fyrsmithlabs/rubric/internal/workflow"
)

// Config is the full configuration tree.
type Config struct {
	Logging      logging.Config               `koanf:"logging"`
	Store        StoreConfig                  `koanf:"store"`
	Verifiers    []VerifierConfig             `koanf:"verifiers"`
	Workflows    []workflow.Definition        `koanf:"workflows"`
	Environments map[string]EnvironmentConfig `koanf:"environments"`
}

// StoreConfig selects the episode store backing the observability pipeline.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `koanf:"driver"`
	// Path is the database file for the sqlite driver.
	Path string `koanf:"path"`
	// AsyncBuffer, when positive, decouples log persistence from reward
	// computation with a queue of this capacity.
	AsyncBuffer int `koanf:"async_buffer"`
}

// VerifierConfig identifies one verifier instance. Immutable once loaded;
// owned by the registry.
type VerifierConfig struct {
	Name       string             `koanf:"name"`
	Kind       string             `koanf:"kind"`
	Weights    map[string]float64 `koanf:"weights"`
	Thresholds map[string]float64 `koanf:"thresholds"`
}

// Build constructs the configured verifier. Workflow-kind verifiers are not
// declared here; they come from the workflows section and are instantiated
// per episode.
func (c VerifierConfig) Build() (verifier.Verifier, error) {
	kind := verifier.Kind(c.Kind)
	switch kind {
	case verifier.KindClinical, verifier.KindOperational, verifier.KindFinancial:
		return verifier.NewDeltaVerifier(c.Name, kind, c.Weights, c.Thresholds)
	case verifier.KindCompliance:
		return verifier.NewComplianceVerifier(c.Name, c.Weights, c.Thresholds)
	case verifier.KindWorkflow:
		return nil, fmt.Errorf("verifier %q: workflow verifiers are declared in the workflows section", c.Name)
	default:
		return nil, fmt.Errorf("verifier %q: unknown kind %q", c.Name, c.Kind)
	}
}

// MemberConfig references a declared verifier with its ensemble weight.
type MemberConfig struct {
	Verifier string  `koanf:"verifier"`
	Weight   float64 `koanf:"weight"`
}

// EnvironmentConfig wires one environment: its ensemble members, an
// optional workflow, and its governance policy.
type EnvironmentConfig struct {
	Members []MemberConfig `koanf:"members"`

	// Workflow names a workflow definition whose sequence verifier joins
	// the ensemble, weighted by WorkflowWeight (default 1).
	Workflow       string  `koanf:"workflow"`
	WorkflowWeight float64 `koanf:"workflow_weight"`

	Governance governance.Config     `koanf:"governance"`
	Rules      []governance.RuleSpec `koanf:"rules"`
}

// Validate checks the whole tree, constructing every configured object so
// that unknown component names, missing thresholds, and dangling references
// fail at load time rather than at evaluation time.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	switch c.Store.Driver {
	case "", "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store: sqlite driver requires a path")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}
	if c.Store.AsyncBuffer < 0 {
		return fmt.Errorf("store: async_buffer must be >= 0")
	}

	verifiers := make(map[string]verifier.Kind, len(c.Verifiers))
	for _, vc := range c.Verifiers {
		if vc.Name == "" {
			return fmt.Errorf("verifier with empty name")
		}
		if _, dup := verifiers[vc.Name]; dup {
			return fmt.Errorf("duplicate verifier %q", vc.Name)
		}
		verifiers[vc.Name] = verifier.Kind(vc.Kind)
		if _, err := vc.Build(); err != nil {
			return err
		}
	}

	workflows := make(map[string]struct{}, len(c.Workflows))
	for i := range c.Workflows {
		def := &c.Workflows[i]
		if def.Name == "" {
			return fmt.Errorf("workflow with empty name")
		}
		if _, dup := workflows[def.Name]; dup {
			return fmt.Errorf("duplicate workflow %q", def.Name)
		}
		workflows[def.Name] = struct{}{}
		if err := def.Validate(); err != nil {
			return err
		}
	}

	for env, ec := range c.Environments {
		if len(ec.Members) == 0 && ec.Workflow == "" {
			return fmt.Errorf("environment %q: needs at least one ensemble member or a workflow", env)
		}
		seen := make(map[string]struct{}, len(ec.Members))
		for _, m := range ec.Members {
			kind, ok := verifiers[m.Verifier]
			if !ok {
				return fmt.Errorf("environment %q: unknown verifier %q", env, m.Verifier)
			}
			if _, dup := seen[m.Verifier]; dup {
				return fmt.Errorf("environment %q: duplicate member %q", env, m.Verifier)
			}
			seen[m.Verifier] = struct{}{}
			// a negative ensemble weight would flip a compliance member's
			// non-positive components into positive contributions
			if kind == verifier.KindCompliance && m.Weight < 0 {
				return fmt.Errorf("environment %q: compliance member %q must have weight >= 0", env, m.Verifier)
			}
		}
		if ec.Workflow != "" {
			if _, ok := workflows[ec.Workflow]; !ok {
				return fmt.Errorf("environment %q: unknown workflow %q", env, ec.Workflow)
			}
		}
		if ec.Governance.MaxRiskThreshold < 0 {
			return fmt.Errorf("environment %q: max_risk_threshold must be >= 0", env)
		}
		if _, err := governance.BuildRuleSet(ec.Governance, ec.Rules); err != nil {
			return fmt.Errorf("environment %q: %w", env, err)
		}
	}
	return nil
}

// WorkflowByName returns the named workflow definition.
func (c *Config) WorkflowByName(name string) (*workflow.Definition, bool) {
	for i := range c.Workflows {
		if c.Workflows[i].Name == name {
			return &c.Workflows[i], true
		}
	}
	return nil, false
}
