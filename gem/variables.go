package gem

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/arloliu/go-secs/secs2"
)

// ErrVariableNotFound is returned by VariableSource implementations when the
// requested variable id is not known.
var ErrVariableNotFound = errors.New("gem: variable not found")

// VariableSource supplies current values for numbered status/data variables.
// The engine never owns variable state; it only reads values by id at event
// capture time. Read may block on hardware I/O.
type VariableSource interface {
	Read(vid uint32) (secs2.Item, error)
}

// ValueProvider returns the current value for a variable.
type ValueProvider func() (secs2.Item, error)

// Variable describes one entry of a VariableTable.
type Variable struct {
	id   uint32
	Name string
	Unit string

	mu       sync.RWMutex
	value    secs2.Item
	provider ValueProvider
}

// VariableOption mutates a Variable during construction.
type VariableOption func(*Variable)

// WithValue sets a static value for the variable.
func WithValue(item secs2.Item) VariableOption {
	return func(v *Variable) {
		v.value = item
	}
}

// WithValueProvider registers a dynamic provider callback.
func WithValueProvider(provider ValueProvider) VariableOption {
	return func(v *Variable) {
		v.provider = provider
	}
}

// NewVariable constructs a variable definition. id must be non-zero.
func NewVariable(id uint32, name, unit string, opts ...VariableOption) (*Variable, error) {
	if id == 0 {
		return nil, errors.New("gem: variable id must be non-zero")
	}

	v := &Variable{id: id, Name: name, Unit: unit}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ID returns the variable identifier.
func (v *Variable) ID() uint32 { return v.id }

// SetValue updates the stored static value. Ignored when a provider is present.
func (v *Variable) SetValue(item secs2.Item) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = item
}

// SetValueProvider installs or replaces the dynamic value provider.
func (v *Variable) SetValueProvider(provider ValueProvider) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.provider = provider
}

// Value resolves the current value, preferring the provider over the stored
// static value.
func (v *Variable) Value() (secs2.Item, error) {
	v.mu.RLock()
	provider := v.provider
	value := v.value
	v.mu.RUnlock()

	if provider != nil {
		return provider()
	}
	if value == nil {
		return nil, fmt.Errorf("gem: variable %d has no value", v.id)
	}
	return value, nil
}

// VariableTable is an in-memory VariableSource backed by registered Variable
// definitions. Registration happens at startup; reads are concurrent.
type VariableTable struct {
	mu   sync.RWMutex
	vars map[uint32]*Variable
}

// NewVariableTable creates an empty table.
func NewVariableTable() *VariableTable {
	return &VariableTable{vars: make(map[uint32]*Variable)}
}

// Register installs a variable definition.
func (t *VariableTable) Register(v *Variable) error {
	if v == nil {
		return errors.New("gem: variable is nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.vars[v.ID()]; exists {
		return fmt.Errorf("gem: variable %d already registered", v.ID())
	}
	t.vars[v.ID()] = v
	return nil
}

// Read resolves the current value of the variable with the given id.
// It implements the VariableSource interface.
func (t *VariableTable) Read(vid uint32) (secs2.Item, error) {
	t.mu.RLock()
	v, ok := t.vars[vid]
	t.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("gem: variable %d: %w", vid, ErrVariableNotFound)
	}
	return v.Value()
}

// IDs returns the registered variable ids in ascending order.
func (t *VariableTable) IDs() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]uint32, 0, len(t.vars))
	for id := range t.vars {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Has reports whether a variable with the given id is registered. It lets
// callers validate ids without triggering a potentially blocking read.
func (t *VariableTable) Has(vid uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.vars[vid]
	return ok
}

// Lookup returns the variable definition for id.
func (t *VariableTable) Lookup(vid uint32) (*Variable, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok := t.vars[vid]
	return v, ok
}
