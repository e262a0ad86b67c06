// Package engine implements the workflow core: namespaced identifiers,
// declarative transition rules compiled into per-capability state machines,
// the selector-based subscription bus, and the operation/result binder that
// closes the loop when asynchronous work reports back.
package engine

import (
	"fmt"
	"sync"
)

// State is a qualified work status value, e.g. "state:CREATED".
type State string

// Action is a qualified verb applied to a resource, e.g. "action:START".
type Action string

// Operation is a qualified outbound task kind, e.g. "op:DOIT".
type Operation string

// Result is a qualified operation outcome, e.g. "result:SUCCESS".
type Result string

// Sentinels. Qualified values always carry a "<ns>:" prefix, so neither can
// collide with a registered symbol.
const (
	// Any matches every from-state in an allow rule.
	Any State = "*"
	// Keep is a to-state meaning "do not change the current state".
	Keep State = "keep"
)

// Namespace is an append-only symbol table mapping short symbols to qualified
// "<prefix>:<SYMBOL>" values. Registering an existing symbol is a no-op.
// After Finalise, new registrations fail with ConfigError.
type Namespace struct {
	prefix string

	mu      sync.Mutex
	frozen  bool
	symbols map[string]string
}

// NewNamespace creates a namespace with the given qualification prefix.
func NewNamespace(prefix string) *Namespace {
	return &Namespace{
		prefix:  prefix,
		symbols: make(map[string]string),
	}
}

// Register adds symbols, returning their qualified values in input order.
// Case-preserving. Returns ConfigError when the namespace is finalised and a
// symbol is new.
func (n *Namespace) Register(symbols ...string) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	qualified := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		q, ok := n.symbols[symbol]
		if !ok {
			if n.frozen {
				return nil, configErrorf("namespace %q is finalised, cannot register %q", n.prefix, symbol)
			}
			q = n.prefix + ":" + symbol
			n.symbols[symbol] = q
		}
		qualified = append(qualified, q)
	}
	return qualified, nil
}

// MustRegister is Register for start-up wiring, panicking on ConfigError.
func (n *Namespace) MustRegister(symbols ...string) []string {
	qualified, err := n.Register(symbols...)
	if err != nil {
		panic(err)
	}
	return qualified
}

// Lookup returns the qualified value of a registered symbol.
func (n *Namespace) Lookup(symbol string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	q, ok := n.symbols[symbol]
	if !ok {
		return "", configErrorf("unknown symbol %q in namespace %q", symbol, n.prefix)
	}
	return q, nil
}

// Contains reports whether the qualified value is registered.
func (n *Namespace) Contains(qualified string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, q := range n.symbols {
		if q == qualified {
			return true
		}
	}
	return false
}

// Finalise freezes the namespace. Idempotent.
func (n *Namespace) Finalise() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.frozen = true
}

// String implements fmt.Stringer.
func (n *Namespace) String() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fmt.Sprintf("namespace(%s, %d symbols)", n.prefix, len(n.symbols))
}

// Namespaces bundles the four identifier namespaces of the engine.
type Namespaces struct {
	States     *Namespace
	Actions    *Namespace
	Operations *Namespace
	Results    *Namespace
}

// NewNamespaces creates the standard namespace set.
func NewNamespaces() *Namespaces {
	return &Namespaces{
		States:     NewNamespace("state"),
		Actions:    NewNamespace("action"),
		Operations: NewNamespace("op"),
		Results:    NewNamespace("result"),
	}
}

// Finalise freezes all namespaces.
func (n *Namespaces) Finalise() {
	n.States.Finalise()
	n.Actions.Finalise()
	n.Operations.Finalise()
	n.Results.Finalise()
}
