// Package config loads replayable scenarios: a table schema, a set of clients with their
// subscriptions, and a sequence of steps (subscribe, unsubscribe, transaction, disconnect).
package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/l7mp/livesync/pkg/cache"
	"github.com/l7mp/livesync/pkg/object"
	"github.com/l7mp/livesync/pkg/subscription"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a recorded or hand-written session against the subscription manager.
type Scenario struct {
	Tables  []object.Table `json:"tables"`
	Clients []Client       `json:"clients"`
	Steps   []Step         `json:"steps"`
}

// Client is a named connection. Clients connect in the order they are listed.
type Client struct {
	Name     string          `json:"name"`
	Identity object.Identity `json:"identity"`
}

// Step is one action in a scenario. Exactly one of Subscribe, Unsubscribe, Transaction and
// Disconnect must be set.
type Step struct {
	Client      string               `json:"client"`
	Subscribe   []subscription.Query `json:"subscribe,omitempty"`
	Unsubscribe string               `json:"unsubscribe,omitempty"`
	Transaction *Transaction         `json:"transaction,omitempty"`
	Disconnect  bool                 `json:"disconnect,omitempty"`
}

// Transaction is a reducer call made by the step's client, which is reported as its caller.
type Transaction struct {
	Reducer string              `json:"reducer"`
	Status  object.Status       `json:"status"`
	Writes  []cache.TableUpdate `json:"writes,omitempty"`
}

// Load reads a scenario from a YAML or JSON file.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a scenario.
func Parse(b []byte) (*Scenario, error) {
	s := &Scenario{}
	if err := yaml.UnmarshalStrict(b, s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}

	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Validate checks that every reference in the scenario resolves.
func (s *Scenario) Validate() error {
	tables := map[string]object.Table{}
	for _, t := range s.Tables {
		if t.Name == "" {
			return fmt.Errorf("%w: table with empty name", ErrInvalidScenario)
		}
		if _, ok := tables[t.Name]; ok {
			return fmt.Errorf("%w: duplicate table %q", ErrInvalidScenario, t.Name)
		}
		tables[t.Name] = t
	}

	clients := map[string]bool{}
	for _, c := range s.Clients {
		if c.Name == "" {
			return fmt.Errorf("%w: client with empty name", ErrInvalidScenario)
		}
		if clients[c.Name] {
			return fmt.Errorf("%w: duplicate client %q", ErrInvalidScenario, c.Name)
		}
		clients[c.Name] = true
	}

	for i, st := range s.Steps {
		if !clients[st.Client] {
			return fmt.Errorf("%w: step %d: unknown client %q", ErrInvalidScenario, i, st.Client)
		}

		actions := 0
		if len(st.Subscribe) > 0 {
			actions++
		}
		if st.Unsubscribe != "" {
			actions++
		}
		if st.Transaction != nil {
			actions++
		}
		if st.Disconnect {
			actions++
		}
		if actions != 1 {
			return fmt.Errorf("%w: step %d: expected exactly one action, got %d", ErrInvalidScenario, i, actions)
		}

		for _, q := range st.Subscribe {
			if _, ok := tables[q.Table]; !ok {
				return fmt.Errorf("%w: step %d: query %q: unknown table %q", ErrInvalidScenario, i, q.ID, q.Table)
			}
		}

		if st.Transaction == nil {
			continue
		}
		for _, w := range st.Transaction.Writes {
			t, ok := tables[w.Table]
			if !ok {
				return fmt.Errorf("%w: step %d: unknown table %q", ErrInvalidScenario, i, w.Table)
			}
			for _, row := range append(append([]object.Row{}, w.Inserts...), w.Deletes...) {
				if _, err := t.Key(row); err != nil {
					return fmt.Errorf("%w: step %d: %w", ErrInvalidScenario, i, err)
				}
			}
		}
	}

	return nil
}

// normalize turns integral numbers decoded as float64 back into int64, so rows loaded from
// files compare and filter the same way as rows built in code.
func (s *Scenario) normalize() {
	for _, st := range s.Steps {
		if st.Transaction == nil {
			continue
		}
		for _, w := range st.Transaction.Writes {
			for _, row := range w.Inserts {
				normalizeRow(row)
			}
			for _, row := range w.Deletes {
				normalizeRow(row)
			}
		}
	}
}

func normalizeRow(row object.Row) {
	for k, v := range row {
		row[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
		return val
	case map[string]any:
		normalizeRow(val)
		return val
	case []any:
		for i := range val {
			val[i] = normalizeValue(val[i])
		}
		return val
	default:
		return v
	}
}
