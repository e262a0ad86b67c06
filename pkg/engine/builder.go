package engine

import (
	"github.com/statorq/statorq/pkg/metrics"
)

// Builder accumulates the engine's declarative configuration and, on Build,
// validates it and compiles the immutable rule, subscription and binding
// tables. Configuration errors surface once, at Build.
type Builder struct {
	namespaces *Namespaces
	types      *TypeRegistry
	allows     []allowRule
	subs       []subscription
	binds      []bindRule
	metrics    *metrics.EngineMetrics
	errs       []error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		namespaces: NewNamespaces(),
		types:      NewTypeRegistry(),
	}
}

// Namespaces exposes the identifier namespaces for registration.
func (b *Builder) Namespaces() *Namespaces {
	return b.namespaces
}

// RegisterType adds a resource type.
func (b *Builder) RegisterType(typ *ResourceType) *Builder {
	if err := b.types.Register(typ); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Allow declares a transition rule: performing action on a resource with cap
// in one of the from states moves it to to. An empty from list, or a list
// containing Any, installs a wildcard that resolves after concrete rules.
// The Keep sentinel as to leaves the current state unchanged.
func (b *Builder) Allow(cap Capability, action Action, from []State, to State) *Builder {
	b.allows = append(b.allows, allowRule{cap: cap, action: action, from: from, to: to})
	return b
}

// On subscribes a handler: notices matching selector on resources with cap
// invoke handler, tagged with operation.
func (b *Builder) On(cap Capability, selector Selector, operation Operation, handler Handler) *Builder {
	if handler == nil {
		b.errs = append(b.errs, configErrorf("nil handler for (%s, %s)", cap, selector))
		return b
	}
	b.subs = append(b.subs, subscription{cap: cap, selector: selector, operation: operation, handler: handler})
	return b
}

// After binds an operation outcome to an action: when a result for operation
// arrives on a resource with cap, perform action.
func (b *Builder) After(cap Capability, operation Operation, result Result, action Action) *Builder {
	b.binds = append(b.binds, bindRule{cap: cap, operation: operation, result: result, action: action})
	return b
}

// WithMetrics attaches engine metrics.
func (b *Builder) WithMetrics(m *metrics.EngineMetrics) *Builder {
	b.metrics = m
	return b
}

// Build validates the accumulated configuration, compiles the rule tables,
// finalises the namespaces and returns the immutable engine.
func (b *Builder) Build() (*Engine, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	rules, err := compileRules(b.allows)
	if err != nil {
		return nil, err
	}

	// A binding whose action no rule exposes could never complete; catch
	// the wiring mistake at start-up instead of on first result ingest.
	for _, bind := range b.binds {
		if !rules.hasAction(bind.action) {
			return nil, configErrorf("binding (%s, %s, %s) targets action %s with no allow rule",
				bind.cap, bind.operation, bind.result, bind.action)
		}
	}

	b.namespaces.Finalise()

	return &Engine{
		Namespaces: b.namespaces,
		Types:      b.types,
		rules:      rules,
		subs:       buildSubscriptions(b.subs),
		binds:      buildBindings(b.binds),
		metrics:    b.metrics,
	}, nil
}

// Engine is the compiled workflow configuration. Immutable after Build;
// readers need no locking.
type Engine struct {
	Namespaces *Namespaces
	Types      *TypeRegistry

	rules   *ruleTable
	subs    *subscriptionTable
	binds   *bindTable
	metrics *metrics.EngineMetrics
}

// ResolveBinding returns the action bound to (operation, result) for the
// resource's capability chain.
func (e *Engine) ResolveBinding(r Resource, operation Operation, result Result) (Action, bool) {
	return e.binds.resolve(r.Type().Capabilities, operation, result)
}
