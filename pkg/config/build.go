package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/compconf/pkg/bundle"
	"github.com/openfroyo/compconf/pkg/classpath"
	"github.com/openfroyo/compconf/pkg/engine"
	"github.com/openfroyo/compconf/pkg/parameter"
	"github.com/openfroyo/compconf/pkg/policy"
	"github.com/openfroyo/compconf/pkg/service"
)

// ServiceStateObserver is implemented by observers that also want
// controller service transitions.
type ServiceStateObserver interface {
	ServiceStateChanged(serviceID string, from, to engine.ServiceState)
}

// Options configure Build.
type Options struct {
	Logger zerolog.Logger

	// Observer receives engine activity. Optional.
	Observer engine.Observer

	// MaxParallel is the number of validation workers.
	MaxParallel int

	// ValidationTimeout bounds a single validation pass. Zero means no bound.
	ValidationTimeout time.Duration

	// Reload is called when the classpath of a component changed. Optional.
	Reload classpath.ReloadFunc
}

// Environment is a definition turned into live component nodes together with
// the bundles, controller services and parameter context they use.
type Environment struct {
	Definition *Definition
	Bundles    *bundle.Registry
	Services   *service.Registry

	// Parameters is nil when the definition declares no parameter context.
	Parameters *parameter.Context

	Scheduler *engine.ValidationScheduler
	Policies  *policy.Validator

	logger zerolog.Logger
	nodes  []*engine.ComponentNode
	byID   map[string]*engine.ComponentNode
}

// Report is the validation outcome of one component.
type Report struct {
	ComponentID string
	Name        string
	Type        string
	Status      engine.ValidationStatus
	Results     []engine.ValidationResult
}

type definitionGroup struct {
	id     string
	params *parameter.Context
}

func (g *definitionGroup) ID() string { return g.id }

func (g *definitionGroup) ParameterContext() parameter.Lookup {
	if g.params == nil {
		return nil
	}
	return g.params
}

// Build creates the environment for def. Every component is queued for
// validation; call Start to run the validation workers.
func Build(ctx context.Context, def *Definition, opts Options) (*Environment, error) {
	logger := opts.Logger.With().Str("component", "environment").Str("definition", def.Name).Logger()
	observer := opts.Observer
	if observer == nil {
		observer = engine.NopObserver{}
	}

	env := &Environment{
		Definition: def,
		Bundles:    bundle.NewRegistry(),
		Scheduler:  engine.NewValidationScheduler(opts.MaxParallel, opts.ValidationTimeout, observer, opts.Logger),
		logger:     logger,
		byID:       make(map[string]*engine.ComponentNode),
	}

	if err := env.loadBundles(); err != nil {
		return nil, err
	}

	env.Services = service.NewRegistry(env.Bundles, opts.Logger)
	if err := env.createServices(ctx); err != nil {
		return nil, err
	}

	if err := env.createParameters(); err != nil {
		return nil, err
	}

	policies, err := policy.NewValidator(ctx, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy validator: %w", err)
	}
	if len(def.Policies) > 0 {
		paths := make([]string, len(def.Policies))
		for i, p := range def.Policies {
			paths[i] = def.ResolvePath(p)
		}
		if err := policies.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	env.Policies = policies

	group := &definitionGroup{id: def.Name, params: env.Parameters}
	for i := range def.Components {
		node, err := env.createNode(ctx, &def.Components[i], group, observer, opts)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", def.Components[i].ID, err)
		}
		env.nodes = append(env.nodes, node)
		env.byID[node.ID()] = node
		if env.Parameters != nil {
			env.Parameters.Subscribe(node.OnParametersModified)
		}
	}

	stateObserver, _ := observer.(ServiceStateObserver)
	env.Services.Subscribe(func(serviceID string, from, to engine.ServiceState) {
		if stateObserver != nil {
			stateObserver.ServiceStateChanged(serviceID, from, to)
		}
		svc, ok := env.Services.Get(serviceID)
		if !ok {
			return
		}
		for _, id := range svc.References() {
			if node, ok := env.byID[id]; ok {
				node.ResetValidationState()
			}
		}
	})

	logger.Info().
		Int("bundles", len(env.Bundles.List())).
		Int("services", len(def.Services)).
		Int("components", len(env.nodes)).
		Msg("Environment built")
	return env, nil
}

func (e *Environment) loadBundles() error {
	for _, m := range e.Definition.Bundles {
		if err := e.Bundles.Add(m.Bundle()); err != nil {
			return fmt.Errorf("bundle %s: %w", m.Coordinate, err)
		}
	}
	for _, dir := range e.Definition.BundleDirs {
		dir = e.Definition.ResolvePath(dir)
		failures, err := bundle.NewManifestLoader(dir).ScanDirectory(dir, e.Bundles)
		if err != nil {
			return fmt.Errorf("failed to scan bundle directory %s: %w", dir, err)
		}
		for path, err := range failures {
			e.logger.Warn().Err(err).Str("manifest", path).Msg("Skipping bundle")
		}
	}
	return nil
}

func (e *Environment) createServices(ctx context.Context) error {
	for _, sc := range e.Definition.Services {
		coord, err := bundle.ParseCoordinate(sc.Bundle)
		if err != nil {
			return err
		}
		node, err := e.Services.Create(sc.ID, sc.Type, coord)
		if err != nil {
			return err
		}
		node.SetProperties(sc.Properties)

		switch engine.ServiceState(sc.State) {
		case engine.ServiceEnabling:
			err = node.Enable(ctx)
		case engine.ServiceEnabled:
			if err = node.Enable(ctx); err == nil {
				err = node.CompleteEnable(ctx)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Environment) createParameters() error {
	pc := e.Definition.Parameters
	if pc == nil {
		return nil
	}
	params := pc.Parameters
	if pc.File != "" {
		fromFile, err := LoadParameterFile(e.Definition.ResolvePath(pc.File))
		if err != nil {
			return err
		}
		merged := make(map[string]parameter.Parameter, len(params)+len(fromFile))
		for _, p := range params {
			merged[p.Name] = p
		}
		for _, p := range fromFile {
			merged[p.Name] = p
		}
		params = make([]parameter.Parameter, 0, len(merged))
		for _, p := range merged {
			params = append(params, p)
		}
	}
	name := pc.Name
	if name == "" {
		name = pc.ID
	}
	e.Parameters = parameter.NewContext(pc.ID, name, params)
	return nil
}

func (e *Environment) createNode(ctx context.Context, cfg *ComponentConfig, group engine.Group, observer engine.Observer, opts Options) (*engine.ComponentNode, error) {
	ruleSets := []RuleSet{e.Policies}
	script := cfg.Script
	if cfg.ScriptFile != "" {
		data, err := os.ReadFile(e.Definition.ResolvePath(cfg.ScriptFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read script: %w", err)
		}
		script = string(data)
	}
	if script != "" {
		name := cfg.ID + ".star"
		if cfg.ScriptFile != "" {
			name = filepath.Base(cfg.ScriptFile)
		}
		rules, err := NewScriptRules(name, script, opts.Logger)
		if err != nil {
			return nil, err
		}
		ruleSets = append(ruleSets, rules)
	}

	component, err := NewDefinitionComponent(cfg, opts.Logger, ruleSets...)
	if err != nil {
		return nil, err
	}

	cpDir := e.Definition.ResolvePath(cfg.ClasspathDir)
	if cpDir == "" {
		cpDir = e.Definition.ResolvePath(".")
	}

	node, err := engine.NewComponentNode(engine.NodeConfig{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Type:      cfg.Type,
		Component: component,
		Group:     group,
		Services:  e.Services,
		Classpath: classpath.NewResolver(cpDir, opts.Reload, opts.Logger),
		Trigger:   e.Scheduler,
		Observer:  observer,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	node.PauseValidationTrigger()
	if cfg.AnnotationData != "" {
		if err := node.SetAnnotationData(cfg.AnnotationData); err != nil {
			return nil, err
		}
	}
	initial := make(map[string]*string, len(cfg.Properties))
	for name, value := range cfg.Properties {
		if value != nil {
			initial[name] = value
		}
	}
	if len(initial) > 0 {
		if err := node.SetProperties(ctx, initial, false); err != nil {
			return nil, err
		}
	}
	node.ResumeValidationTrigger()
	return node, nil
}

// Start runs the validation workers until ctx is done or Stop is called.
func (e *Environment) Start(ctx context.Context) {
	e.Scheduler.Start(ctx)
}

// Stop stops the validation workers.
func (e *Environment) Stop() {
	e.Scheduler.Stop()
}

// Logger returns the logger of the environment.
func (e *Environment) Logger() zerolog.Logger {
	return e.logger
}

// Node returns the node of a component.
func (e *Environment) Node(id string) (*engine.ComponentNode, bool) {
	n, ok := e.byID[id]
	return n, ok
}

// Nodes returns the component nodes in definition order.
func (e *Environment) Nodes() []*engine.ComponentNode {
	return append([]*engine.ComponentNode(nil), e.nodes...)
}

// EnableService enables a controller service and completes the activation.
func (e *Environment) EnableService(ctx context.Context, id string) error {
	svc, ok := e.Services.Get(id)
	if !ok {
		return engine.NewNotFoundError(fmt.Sprintf("controller service %s not found", id), nil).WithResource(id)
	}
	switch svc.State() {
	case engine.ServiceEnabled:
		return nil
	case engine.ServiceDisabled:
		if err := svc.Enable(ctx); err != nil {
			return err
		}
	}
	return svc.CompleteEnable(ctx)
}

// DisableService disables a controller service and completes the shutdown.
func (e *Environment) DisableService(ctx context.Context, id string) error {
	svc, ok := e.Services.Get(id)
	if !ok {
		return engine.NewNotFoundError(fmt.Sprintf("controller service %s not found", id), nil).WithResource(id)
	}
	switch svc.State() {
	case engine.ServiceDisabled:
		return nil
	case engine.ServiceEnabling, engine.ServiceEnabled:
		if err := svc.Disable(ctx); err != nil {
			return err
		}
	}
	return svc.CompleteDisable(ctx)
}

// ReplacePolicies swaps the loaded policies and revalidates every component.
// On a compile error the previous policies stay active and nothing is reset.
func (e *Environment) ReplacePolicies(ctx context.Context, policies []policy.Policy) error {
	if err := e.Policies.ReplacePolicies(ctx, policies); err != nil {
		return err
	}
	for _, node := range e.nodes {
		node.ResetValidationState()
	}
	e.logger.Info().Int("policies", len(policies)).Msg("Policies replaced")
	return nil
}

// Await waits up to timeout for every component to finish validating and
// returns their reports in definition order. Components still validating
// when the timeout expires are reported as VALIDATING.
func (e *Environment) Await(ctx context.Context, timeout time.Duration) ([]Report, error) {
	reports := make([]Report, len(e.nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range e.nodes {
		g.Go(func() error {
			status, err := node.ValidationStatus(gctx, timeout)
			if err != nil && ctx.Err() != nil {
				return err
			}
			reports[i] = Report{
				ComponentID: node.ID(),
				Name:        node.Name(),
				Type:        node.Type(),
				Status:      status,
			}
			if status == engine.StatusInvalid {
				reports[i].Results = node.ValidationErrors()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
