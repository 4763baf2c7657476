// Package registry constructs and resolves the configured reward objects by
// environment name. The registry is built once from validated configuration
// and shared read-only by every episode; there is no ambient global state
// and no runtime mutation of policy.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/rubric/internal/config"
	"github.com/fyrsmithlabs/rubric/internal/governance"
	"github.com/fyrsmithlabs/rubric/internal/verifier"
	"github.com/fyrsmithlabs/rubric/internal/workflow"
)

// Errors for registry lookups.
var (
	ErrVerifierNotFound    = errors.New("verifier not found")
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrEnvironmentNotFound = errors.New("environment not found")
)

// Environment bundles everything one configured environment needs to run
// episodes: the shared stateless verifiers, an optional workflow definition,
// and the governance gate.
type Environment struct {
	name           string
	members        []verifier.Member
	workflow       *workflow.Definition
	workflowWeight float64
	gate           *governance.Gate
}

// Name returns the environment name.
func (e *Environment) Name() string { return e.name }

// Gate returns the environment's governance gate. Gates are stateless and
// shared across the environment's episodes.
func (e *Environment) Gate() *governance.Gate { return e.gate }

// Workflow returns the configured workflow definition, or nil when the
// environment has none.
func (e *Environment) Workflow() *workflow.Definition { return e.workflow }

// NewEnsemble builds the ensemble for one episode. Delta and compliance
// verifiers are stateless and shared; the workflow sequence verifier tracks
// position per episode, so each call gets a fresh instance.
func (e *Environment) NewEnsemble() (*verifier.Ensemble, error) {
	members := make([]verifier.Member, 0, len(e.members)+1)
	members = append(members, e.members...)
	if e.workflow != nil {
		members = append(members, verifier.Member{
			Verifier: workflow.NewSequenceVerifier(e.workflow.Name, e.workflow),
			Weight:   e.workflowWeight,
		})
	}
	return verifier.NewEnsemble(e.name, members)
}

// Registry resolves verifiers, workflows, and environments by name.
type Registry struct {
	mu           sync.RWMutex
	verifiers    map[string]verifier.Verifier
	workflows    map[string]*workflow.Definition
	environments map[string]*Environment
}

// New builds the registry from validated configuration, constructing every
// verifier, workflow, rule set, and gate up front so that lookups after
// startup cannot fail on malformed policy.
func New(cfg *config.Config) (*Registry, error) {
	r := &Registry{
		verifiers:    make(map[string]verifier.Verifier, len(cfg.Verifiers)),
		workflows:    make(map[string]*workflow.Definition, len(cfg.Workflows)),
		environments: make(map[string]*Environment, len(cfg.Environments)),
	}

	for _, vc := range cfg.Verifiers {
		v, err := vc.Build()
		if err != nil {
			return nil, err
		}
		if _, dup := r.verifiers[v.Name()]; dup {
			return nil, fmt.Errorf("duplicate verifier %q", v.Name())
		}
		r.verifiers[v.Name()] = v
	}

	for i := range cfg.Workflows {
		def := &cfg.Workflows[i]
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.workflows[def.Name]; dup {
			return nil, fmt.Errorf("duplicate workflow %q", def.Name)
		}
		r.workflows[def.Name] = def
	}

	for name, ec := range cfg.Environments {
		env, err := r.buildEnvironment(name, ec)
		if err != nil {
			return nil, fmt.Errorf("environment %q: %w", name, err)
		}
		r.environments[name] = env
	}
	return r, nil
}

func (r *Registry) buildEnvironment(name string, ec config.EnvironmentConfig) (*Environment, error) {
	members := make([]verifier.Member, 0, len(ec.Members))
	for _, mc := range ec.Members {
		v, ok := r.verifiers[mc.Verifier]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrVerifierNotFound, mc.Verifier)
		}
		if v.Kind() == verifier.KindCompliance && mc.Weight < 0 {
			return nil, fmt.Errorf("compliance member %q must have weight >= 0", mc.Verifier)
		}
		members = append(members, verifier.Member{Verifier: v, Weight: mc.Weight})
	}

	env := &Environment{name: name, members: members}
	if ec.Workflow != "" {
		def, ok := r.workflows[ec.Workflow]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, ec.Workflow)
		}
		env.workflow = def
		env.workflowWeight = ec.WorkflowWeight
		if env.workflowWeight == 0 {
			env.workflowWeight = 1
		}
	}

	rules, err := governance.BuildRuleSet(ec.Governance, ec.Rules)
	if err != nil {
		return nil, err
	}
	env.gate = governance.NewGate(name, ec.Governance, rules)
	return env, nil
}

// Verifier looks up a shared verifier instance by name.
func (r *Registry) Verifier(name string) (verifier.Verifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifiers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrVerifierNotFound, name)
	}
	return v, nil
}

// Workflow looks up a workflow definition by name.
func (r *Registry) Workflow(name string) (*workflow.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, name)
	}
	return def, nil
}

// Environment looks up an environment by name.
func (r *Registry) Environment(name string) (*Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, ok := r.environments[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEnvironmentNotFound, name)
	}
	return env, nil
}

// Environments returns the configured environment names, sorted.
func (r *Registry) Environments() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.environments))
	for name := range r.environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
