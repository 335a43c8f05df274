package aggregator

import (
	"KafkaScope/internal/offsets"
	"fmt"
	"sync"
)

// State is the activity classification of a group or topic, ordered by
// precedence: Consuming beats Disconnected beats Unconnected
type State int

const (
	// Unconnected means nothing has been seen for the key
	Unconnected State = iota
	// Disconnected means a positive committed offset exists but no member is assigned
	Disconnected
	// Consuming means at least one live member assignment references the key
	Consuming
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "Unconnected"
	case Disconnected:
		return "Disconnected"
	case Consuming:
		return "Consuming"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state by name in JSON output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// table is the classification shared by every probe of one aggregation.
// Each method is a single read-modify-write under the lock.
type table struct {
	mu         sync.Mutex
	states     map[string]State
	watermarks map[string]offsets.WatermarkPair
	// seededOnly ignores keys that were not present before probing
	seededOnly bool
}

func newTable(seed []string) *table {
	t := &table{
		states:     make(map[string]State, len(seed)),
		watermarks: make(map[string]offsets.WatermarkPair),
		seededOnly: seed != nil,
	}
	for _, key := range seed {
		t.states[key] = Unconnected
	}
	return t
}

func (t *table) markDisconnected(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.states[key]
	if !ok && t.seededOnly {
		return
	}
	if current == Unconnected {
		t.states[key] = Disconnected
	}
}

func (t *table) markConsuming(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.states[key]; !ok && t.seededOnly {
		return
	}
	t.states[key] = Consuming
}

func (t *table) addWatermark(key string, w offsets.WatermarkPair) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.watermarks[key] = t.watermarks[key].Add(w)
}

func (t *table) result() *Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := &Result{
		States:     make(map[string]State, len(t.states)),
		Watermarks: make(map[string]offsets.WatermarkPair, len(t.watermarks)),
	}
	for k, v := range t.states {
		r.States[k] = v
	}
	for k, v := range t.watermarks {
		r.Watermarks[k] = v
	}
	return r
}
