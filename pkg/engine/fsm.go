package engine

import "strings"

// allowRule is one declarative transition rule before compilation.
// A nil from slice means the rule matches any current state.
type allowRule struct {
	cap    Capability
	action Action
	from   []State
	to     State
}

// actionRule is the compiled form of all allow rules for one
// (capability, action) pair. Concrete from-states resolve before the
// wildcard.
type actionRule struct {
	concrete    map[State]State
	wildcardTo  State
	hasWildcard bool
}

// next computes the state the rule moves current to. The second return is
// false when neither a concrete entry nor a wildcard covers current.
func (r *actionRule) next(current State) (State, bool) {
	if to, ok := r.concrete[current]; ok {
		return resolveKeep(to, current), true
	}
	if r.hasWildcard {
		return resolveKeep(r.wildcardTo, current), true
	}
	return "", false
}

func resolveKeep(to, current State) State {
	if to == Keep {
		return current
	}
	return to
}

// machine is the compiled state machine of one capability.
type machine struct {
	actions map[Action]*actionRule
}

// ruleTable holds the compiled machines, keyed by capability. Built once at
// configuration time and immutable afterwards.
type ruleTable struct {
	machines map[Capability]*machine
}

// compileRules aggregates allow rules per (capability, action). Two rules for
// the same (capability, action, concrete-from-state), or two wildcard rules
// for the same (capability, action), fail with ConfigError.
func compileRules(rules []allowRule) (*ruleTable, error) {
	table := &ruleTable{machines: make(map[Capability]*machine)}

	for _, rule := range rules {
		m, ok := table.machines[rule.cap]
		if !ok {
			m = &machine{actions: make(map[Action]*actionRule)}
			table.machines[rule.cap] = m
		}
		ar, ok := m.actions[rule.action]
		if !ok {
			ar = &actionRule{concrete: make(map[State]State)}
			m.actions[rule.action] = ar
		}

		if isWildcardFrom(rule.from) {
			if ar.hasWildcard {
				return nil, configErrorf("duplicate wildcard rule for (%s, %s)", rule.cap, rule.action)
			}
			ar.hasWildcard = true
			ar.wildcardTo = rule.to
			continue
		}

		for _, from := range rule.from {
			if _, dup := ar.concrete[from]; dup {
				return nil, configErrorf("duplicate rule for (%s, %s, %s)", rule.cap, rule.action, from)
			}
			ar.concrete[from] = rule.to
		}
	}

	return table, nil
}

func isWildcardFrom(from []State) bool {
	if len(from) == 0 {
		return true
	}
	for _, s := range from {
		if s == Any {
			return true
		}
	}
	return false
}

// lookup walks the capability chain most-specific-first and returns the first
// compiled rule exposing the action. The action is not permitted when no
// machine in the chain exposes it.
func (t *ruleTable) lookup(chain []Capability, action Action) (*actionRule, bool) {
	for _, cap := range chain {
		m, ok := t.machines[cap]
		if !ok {
			continue
		}
		if ar, ok := m.actions[action]; ok {
			return ar, true
		}
	}
	return nil, false
}

// hasAction reports whether any machine exposes the action. Used to validate
// result bindings at build time.
func (t *ruleTable) hasAction(action Action) bool {
	for _, m := range t.machines {
		if _, ok := m.actions[action]; ok {
			return true
		}
	}
	return false
}

// StateLocal returns the lowercased local part of a qualified state, e.g.
// "started" for "state:STARTED". Used as the action of derived events.
func StateLocal(s State) string {
	value := string(s)
	if _, local, ok := strings.Cut(value, ":"); ok {
		value = local
	}
	return strings.ToLower(value)
}
