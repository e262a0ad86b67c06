package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statorq/statorq/pkg/models"
	"github.com/statorq/statorq/pkg/store/memory"
)

const (
	capModel Capability = "IModel"
	capFoo   Capability = "IFoo"

	stateCreated State = "state:CREATED"
	stateStarted State = "state:STARTED"
	stateDrafted State = "state:DRAFTED"

	actionStart Action = "action:START"
	actionPoke  Action = "action:POKE"
)

func modelType() *ResourceType {
	return &ResourceType{
		Tag:          "models",
		Singular:     "model",
		Capabilities: []Capability{capModel},
	}
}

func fooType() *ResourceType {
	return &ResourceType{
		Tag:          "foos",
		Singular:     "foo",
		Capabilities: []Capability{capFoo, capModel},
	}
}

func newEvent(t *testing.T, store models.Store, parent models.Ref, target, action string) *models.ActivityEvent {
	t.Helper()
	event := &models.ActivityEvent{
		ParentType: parent.Type,
		ParentID:   parent.ID,
		Target:     target,
		Action:     action,
		Data:       models.JSONMap{},
	}
	require.NoError(t, store.CreateEvent(context.Background(), event))
	return event
}

func TestNamespace(t *testing.T) {
	t.Run("RegisterQualifies", func(t *testing.T) {
		ns := NewNamespace("action")
		qualified, err := ns.Register("START", "STOP")
		require.NoError(t, err)
		assert.Equal(t, []string{"action:START", "action:STOP"}, qualified)
	})

	t.Run("ReRegisterIsNoOp", func(t *testing.T) {
		ns := NewNamespace("state")
		_, err := ns.Register("CREATED")
		require.NoError(t, err)
		qualified, err := ns.Register("CREATED")
		require.NoError(t, err)
		assert.Equal(t, []string{"state:CREATED"}, qualified)
	})

	t.Run("FinaliseRejectsNewSymbols", func(t *testing.T) {
		ns := NewNamespace("op")
		_, err := ns.Register("DOIT")
		require.NoError(t, err)
		ns.Finalise()

		// Existing symbols still resolve
		qualified, err := ns.Register("DOIT")
		require.NoError(t, err)
		assert.Equal(t, []string{"op:DOIT"}, qualified)

		_, err = ns.Register("NEW")
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("LookupUnknownSymbol", func(t *testing.T) {
		ns := NewNamespace("result")
		_, err := ns.Lookup("MISSING")
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})
}

func TestSelectorMatches(t *testing.T) {
	changed := Notice{Kind: NoticeChanged, State: stateStarted}
	happened := Notice{Kind: NoticeHappened, Action: actionStart}

	assert.True(t, SelectAny.Matches(changed))
	assert.True(t, SelectAny.Matches(happened))

	assert.True(t, Selector("state:STARTED").Matches(changed))
	assert.False(t, Selector("state:CREATED").Matches(changed))
	assert.False(t, Selector("state:STARTED").Matches(happened))

	assert.True(t, Selector("action:START").Matches(happened))
	assert.False(t, Selector("action:STOP").Matches(happened))
	assert.False(t, Selector("action:START").Matches(changed))
}

func TestBuildRejectsDuplicateRule(t *testing.T) {
	_, err := NewBuilder().
		Allow(capModel, actionStart, []State{stateCreated}, stateStarted).
		Allow(capModel, actionStart, []State{stateCreated}, stateDrafted).
		Build()

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "duplicate rule")
}

func TestBuildRejectsDuplicateWildcard(t *testing.T) {
	_, err := NewBuilder().
		Allow(capModel, actionPoke, nil, Keep).
		Allow(capModel, actionPoke, []State{Any}, stateStarted).
		Build()

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestBuildValidatesBindings(t *testing.T) {
	_, err := NewBuilder().
		Allow(capModel, actionStart, []State{stateCreated}, stateStarted).
		After(capModel, "op:DOIT", "result:SUCCESS", "action:FINISH").
		Build()

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "no allow rule")
}

func TestPerformHappyPath(t *testing.T) {
	typ := modelType()
	eng, err := NewBuilder().
		RegisterType(typ).
		Allow(capModel, actionStart, []State{stateCreated}, stateStarted).
		Build()
	require.NoError(t, err)

	store := memory.New()
	changer := NewStateChanger(eng, store, "http://engine.local", "secret", nil)

	m := NewResource(typ, 1)
	event := newEvent(t, store, m.Ref(), "model", "start_requested")

	out, err := changer.Perform(context.Background(), m, actionStart, event)
	require.NoError(t, err)
	assert.Equal(t, stateStarted, out.State)
	assert.True(t, out.Changed)
	// changed notice precedes happened notice
	require.Len(t, out.Dispatches, 2)
	assert.True(t, out.Dispatches[0].Queued)

	value, err := store.CurrentStatus(context.Background(), m.Ref())
	require.NoError(t, err)
	assert.Equal(t, string(stateStarted), value)

	// A derived event with type model:started exists
	latest, err := store.LatestEvent(context.Background(), m.Ref())
	require.NoError(t, err)
	assert.Equal(t, "model:started", latest.Type())
	assert.Equal(t, string(stateStarted), latest.Data["status"])

	// Both notices were buffered in the outbox
	tasks, err := store.PendingTasks(context.Background(), store.Clock(), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "http://engine.local/events/models/1", tasks[0].URL)
}

func TestPerformReplayIsInvalid(t *testing.T) {
	typ := modelType()
	eng, err := NewBuilder().
		RegisterType(typ).
		Allow(capModel, actionStart, []State{stateCreated}, stateStarted).
		Build()
	require.NoError(t, err)

	store := memory.New()
	changer := NewStateChanger(eng, store, "http://engine.local", "", nil)

	m := NewResource(typ, 1)
	event := newEvent(t, store, m.Ref(), "model", "start_requested")

	_, err = changer.Perform(context.Background(), m, actionStart, event)
	require.NoError(t, err)

	_, err = changer.Perform(context.Background(), m, actionStart, event)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, actionStart, invalid.Action)
	assert.Equal(t, stateStarted, invalid.Current)
}

func TestPerformKeepSentinel(t *testing.T) {
	typ := modelType()
	eng, err := NewBuilder().
		RegisterType(typ).
		Allow(capModel, actionPoke, []State{Any}, Keep).
		Build()
	require.NoError(t, err)

	store := memory.New()
	changer := NewStateChanger(eng, store, "http://engine.local", "", nil)

	m := NewResource(typ, 7)
	event := newEvent(t, store, m.Ref(), "model", "poked")

	out, err := changer.Perform(context.Background(), m, actionPoke, event)
	require.NoError(t, err)
	assert.Equal(t, stateCreated, out.State)
	assert.False(t, out.Changed)
	// only the happened notice
	require.Len(t, out.Dispatches, 1)

	history, err := store.StatusHistory(context.Background(), m.Ref())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestInterfaceSpecificity(t *testing.T) {
	mType := modelType()
	fType := fooType()

	eng, err := NewBuilder().
		RegisterType(mType).
		RegisterType(fType).
		Allow(capModel, "action:PUBLISH", []State{stateDrafted}, "state:PUBLISHED").
		Allow(capFoo, "action:PUBLISH", []State{stateDrafted}, "state:PENDING_MODERATION").
		Build()
	require.NoError(t, err)

	store := memory.New()
	changer := NewStateChanger(eng, store, "http://engine.local", "", nil)
	ctx := context.Background()

	foo := NewResource(fType, 1)
	require.NoError(t, store.CreateStatus(ctx, &models.WorkStatus{
		ParentType: "foos", ParentID: 1, Value: string(stateDrafted),
	}))
	event := newEvent(t, store, foo.Ref(), "foo", "publish_requested")

	out, err := changer.Perform(ctx, foo, "action:PUBLISH", event)
	require.NoError(t, err)
	assert.Equal(t, State("state:PENDING_MODERATION"), out.State)

	m := NewResource(mType, 2)
	require.NoError(t, store.CreateStatus(ctx, &models.WorkStatus{
		ParentType: "models", ParentID: 2, Value: string(stateDrafted),
	}))
	event = newEvent(t, store, m.Ref(), "model", "publish_requested")

	out, err = changer.Perform(ctx, m, "action:PUBLISH", event)
	require.NoError(t, err)
	assert.Equal(t, State("state:PUBLISHED"), out.State)
}

func TestConcreteRuleBeatsWildcard(t *testing.T) {
	typ := modelType()
	eng, err := NewBuilder().
		RegisterType(typ).
		Allow(capModel, actionStart, []State{stateCreated}, stateStarted).
		Allow(capModel, actionStart, nil, Keep).
		Build()
	require.NoError(t, err)

	store := memory.New()
	changer := NewStateChanger(eng, store, "http://engine.local", "", nil)
	ctx := context.Background()

	// In the concrete state the concrete rule governs
	m := NewResource(typ, 1)
	event := newEvent(t, store, m.Ref(), "model", "start_requested")
	out, err := changer.Perform(ctx, m, actionStart, event)
	require.NoError(t, err)
	assert.Equal(t, stateStarted, out.State)
	assert.True(t, out.Changed)

	// Outside it the wildcard applies
	out, err = changer.Perform(ctx, m, actionStart, event)
	require.NoError(t, err)
	assert.Equal(t, stateStarted, out.State)
	assert.False(t, out.Changed)
}

func TestCanPerform(t *testing.T) {
	typ := modelType()
	eng, err := NewBuilder().
		RegisterType(typ).
		Allow(capModel, actionStart, []State{stateCreated}, stateStarted).
		Build()
	require.NoError(t, err)

	store := memory.New()
	changer := NewStateChanger(eng, store, "http://engine.local", "", nil)
	ctx := context.Background()
	m := NewResource(typ, 1)

	ok, err := changer.CanPerform(ctx, m, actionStart)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = changer.CanPerform(ctx, m, "action:UNKNOWN")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.CreateStatus(ctx, &models.WorkStatus{
		ParentType: "models", ParentID: 1, Value: string(stateStarted),
	}))
	ok, err = changer.CanPerform(ctx, m, actionStart)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublishOrderingAndIsolation(t *testing.T) {
	mType := modelType()
	fType := fooType()

	var order []string
	record := func(name string, result Dispatches, err error) Handler {
		return func(ctx context.Context, inv *Invocation) (Dispatches, error) {
			order = append(order, name)
			return result, err
		}
	}

	eng, err := NewBuilder().
		RegisterType(mType).
		RegisterType(fType).
		On(capFoo, "state:STARTED", "op:FOO", record("foo", Dispatches{"op:FOO": nil}, nil)).
		On(capModel, SelectAny, "op:ALL", record("broken", nil, errors.New("boom"))).
		On(capModel, "state:STARTED", "op:MODEL", record("model", nil, nil)).
		Build()
	require.NoError(t, err)

	store := memory.New()
	inv := &Invocation{
		Resource: NewResource(fType, 1),
		Store:    store,
	}
	notice := Notice{Kind: NoticeChanged, State: stateStarted}

	results := eng.Publish(context.Background(), inv, notice)

	// capability chain order first, then registration order within it;
	// the failing handler does not stop later ones
	assert.Equal(t, []string{"foo", "broken", "model"}, order)
	require.Len(t, results, 3)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, "boom", results[1].Error)
	assert.Empty(t, results[2].Error)
}

func TestPublishRecoversPanics(t *testing.T) {
	typ := modelType()
	eng, err := NewBuilder().
		RegisterType(typ).
		On(capModel, SelectAny, "op:PANIC", func(ctx context.Context, inv *Invocation) (Dispatches, error) {
			panic("handler bug")
		}).
		Build()
	require.NoError(t, err)

	inv := &Invocation{Resource: NewResource(typ, 1), Store: memory.New()}
	results := eng.Publish(context.Background(), inv, Notice{Kind: NoticeHappened, Action: actionPoke})

	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "handler bug")
}

func TestResolveBindingWalksChain(t *testing.T) {
	mType := modelType()
	fType := fooType()

	eng, err := NewBuilder().
		RegisterType(mType).
		RegisterType(fType).
		Allow(capModel, "action:FINISH", []State{stateStarted}, "state:FINISHED").
		Allow(capFoo, "action:ARCHIVE", []State{stateStarted}, "state:ARCHIVED").
		After(capModel, "op:DOIT", "result:SUCCESS", "action:FINISH").
		After(capFoo, "op:DOIT", "result:FAILURE", "action:ARCHIVE").
		Build()
	require.NoError(t, err)

	foo := NewResource(fType, 1)
	action, ok := eng.ResolveBinding(foo, "op:DOIT", "result:SUCCESS")
	require.True(t, ok)
	assert.Equal(t, Action("action:FINISH"), action)

	action, ok = eng.ResolveBinding(foo, "op:DOIT", "result:FAILURE")
	require.True(t, ok)
	assert.Equal(t, Action("action:ARCHIVE"), action)

	_, ok = eng.ResolveBinding(NewResource(mType, 2), "op:DOIT", "result:FAILURE")
	assert.False(t, ok)
}

func TestStateLocal(t *testing.T) {
	assert.Equal(t, "started", StateLocal(stateStarted))
	assert.Equal(t, "pending_moderation", StateLocal("state:PENDING_MODERATION"))
	assert.Equal(t, "bare", StateLocal("BARE"))
}
