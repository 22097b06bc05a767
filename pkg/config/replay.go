package config

import (
	"fmt"

	"github.com/l7mp/livesync/pkg/subscription"
)

// Replay runs a scenario against a fresh manager and hands every outbound message to emit, in
// the order the manager produces them.
func Replay(s *Scenario, opts subscription.Options, emit func(subscription.Message) error) (*subscription.Manager, error) {
	mgr, err := subscription.NewManager(s.Tables, opts)
	if err != nil {
		return nil, err
	}

	conns := make(map[string]subscription.ConnectionID, len(s.Clients))
	for _, c := range s.Clients {
		conns[c.Name] = mgr.Connect(c.Identity)
	}

	for i, st := range s.Steps {
		id := conns[st.Client]

		var msgs []subscription.Message
		switch {
		case len(st.Subscribe) > 0:
			msg, err := mgr.Subscribe(id, st.Subscribe...)
			if err != nil {
				return mgr, fmt.Errorf("step %d: %w", i, err)
			}
			msgs = append(msgs, *msg)
		case st.Unsubscribe != "":
			msg, err := mgr.Unsubscribe(id, st.Unsubscribe)
			if err != nil {
				return mgr, fmt.Errorf("step %d: %w", i, err)
			}
			msgs = append(msgs, *msg)
		case st.Transaction != nil:
			msgs, err = mgr.Commit(subscription.Transaction{
				Reducer: st.Transaction.Reducer,
				Caller:  id,
				Status:  st.Transaction.Status,
				Writes:  st.Transaction.Writes,
			})
			if err != nil {
				return mgr, fmt.Errorf("step %d: %w", i, err)
			}
		case st.Disconnect:
			if err := mgr.Disconnect(id); err != nil {
				return mgr, fmt.Errorf("step %d: %w", i, err)
			}
		}

		for _, msg := range msgs {
			if err := emit(msg); err != nil {
				return mgr, err
			}
		}
	}

	return mgr, nil
}
