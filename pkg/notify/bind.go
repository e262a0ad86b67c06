package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/statorq/statorq/pkg/engine"
)

// UserFunc yields the users to notify for an invocation. An empty slice skips
// the notification without error.
type UserFunc func(inv *engine.Invocation) []int64

// EventUser notifies the user recorded on the triggering event.
func EventUser(inv *engine.Invocation) []int64 {
	if inv.Event == nil || inv.Event.UserID == nil {
		return nil
	}
	return []int64{*inv.Event.UserID}
}

// Bind returns a subscription handler that creates one notification per user
// the UserFunc yields for the matched notice. Wire it with Builder.On to
// notify on state changes or actions.
func Bind(factory *Factory, user UserFunc, mapping DispatchMapping, delay time.Duration) engine.Handler {
	if user == nil {
		user = EventUser
	}
	return func(ctx context.Context, inv *engine.Invocation) (engine.Dispatches, error) {
		users := user(inv)
		if len(users) == 0 {
			return nil, nil
		}
		if inv.Event == nil {
			return nil, fmt.Errorf("notice without event")
		}
		for _, userID := range users {
			if _, err := factory.Create(ctx, inv.Store, userID, inv.Event.ID, mapping, delay); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}
