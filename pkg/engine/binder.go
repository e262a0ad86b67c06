package engine

// bindRule maps an operation outcome back onto an action.
type bindRule struct {
	cap       Capability
	operation Operation
	result    Result
	action    Action
}

// bindTable holds result bindings keyed by capability, in registration order.
// Built once at configuration time and immutable afterwards.
type bindTable struct {
	byCap map[Capability][]bindRule
}

func buildBindings(binds []bindRule) *bindTable {
	table := &bindTable{byCap: make(map[Capability][]bindRule)}
	for _, bind := range binds {
		table.byCap[bind.cap] = append(table.byCap[bind.cap], bind)
	}
	return table
}

// resolve walks the capability chain most-specific-first and returns the
// action bound to (operation, result), or false when nothing is bound.
func (t *bindTable) resolve(chain []Capability, operation Operation, result Result) (Action, bool) {
	for _, cap := range chain {
		for _, bind := range t.byCap[cap] {
			if bind.operation == operation && bind.result == result {
				return bind.action, true
			}
		}
	}
	return "", false
}
