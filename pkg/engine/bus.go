package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/internal/telemetry"
	"github.com/statorq/statorq/pkg/metrics"
	"github.com/statorq/statorq/pkg/torque"
)

// NoticeKind distinguishes the two bus events a transition produces.
type NoticeKind string

const (
	// NoticeChanged announces a new work status value.
	NoticeChanged NoticeKind = "changed"
	// NoticeHappened announces that an action occurred.
	NoticeHappened NoticeKind = "happened"
)

// Notice is one bus event.
type Notice struct {
	Kind   NoticeKind
	State  State  // set when Kind is NoticeChanged
	Action Action // set when Kind is NoticeHappened
}

// Selector gates subscriber invocation: "state:<S>" matches a changed notice
// with that value, "action:<A>" matches a happened notice with that action,
// and "*" matches both kinds.
type Selector string

// SelectAny matches every notice.
const SelectAny Selector = "*"

// Matches reports whether the selector admits the notice.
func (s Selector) Matches(n Notice) bool {
	if s == SelectAny {
		return true
	}
	value := string(s)
	switch {
	case strings.HasPrefix(value, "state:"):
		return n.Kind == NoticeChanged && n.State == State(value)
	case strings.HasPrefix(value, "action:"):
		return n.Kind == NoticeHappened && n.Action == Action(value)
	default:
		return false
	}
}

// Dispatches maps an operation to the outbound receipts a handler produced
// for it.
type Dispatches map[Operation][]*torque.Receipt

// Merge folds other into d.
func (d Dispatches) Merge(other Dispatches) {
	for op, receipts := range other {
		d[op] = append(d[op], receipts...)
	}
}

// Handler reacts to a notice. The returned Dispatches describe the outbound
// work it produced. Errors are isolated per handler: logged and reported in
// the HandlerResult, never aborting the enclosing transition.
type Handler func(ctx context.Context, inv *Invocation) (Dispatches, error)

// subscription is one registered handler.
type subscription struct {
	cap       Capability
	selector  Selector
	operation Operation
	handler   Handler
}

// subscriptionTable holds registered handlers keyed by capability, in
// registration order. Built once at configuration time and immutable
// afterwards.
type subscriptionTable struct {
	byCap map[Capability][]subscription
}

func buildSubscriptions(subs []subscription) *subscriptionTable {
	table := &subscriptionTable{byCap: make(map[Capability][]subscription)}
	for _, sub := range subs {
		table.byCap[sub.cap] = append(table.byCap[sub.cap], sub)
	}
	return table
}

// HandlerResult reports one handler invocation to the ingress caller.
type HandlerResult struct {
	Capability Capability `json:"capability"`
	Selector   Selector   `json:"selector"`
	Operation  Operation  `json:"operation,omitempty"`
	Dispatches Dispatches `json:"dispatches,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// publish fans a notice out to every matching handler along the resource's
// capability chain, most specific first; within one capability, registration
// order. Returns one result per invoked handler.
func (t *subscriptionTable) publish(ctx context.Context, inv *Invocation, notice Notice, m *metrics.EngineMetrics) []HandlerResult {
	ctx, span := telemetry.StartPublishSpan(ctx, inv.Resource.Ref().String(), string(notice.Kind))
	defer span.End()

	var results []HandlerResult

	for _, cap := range inv.Resource.Type().Capabilities {
		for _, sub := range t.byCap[cap] {
			if !sub.selector.Matches(notice) {
				continue
			}

			scoped := *inv
			scoped.Notice = notice
			scoped.Operation = sub.operation

			dispatches, err := invokeHandler(ctx, sub.handler, &scoped)
			m.RecordHandler(err)

			result := HandlerResult{
				Capability: cap,
				Selector:   sub.selector,
				Operation:  sub.operation,
				Dispatches: dispatches,
			}
			if err != nil {
				result.Error = err.Error()
				logger.Warn("Subscription handler failed",
					logger.KeyResource, inv.Resource.Ref().String(),
					logger.KeyOperation, string(sub.operation),
					"selector", string(sub.selector),
					logger.KeyError, err)
			}
			results = append(results, result)
		}
	}

	return results
}

// invokeHandler runs one handler, converting panics into errors so a broken
// subscriber cannot take down the ingress worker.
func invokeHandler(ctx context.Context, h Handler, inv *Invocation) (dispatches Dispatches, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, inv)
}
