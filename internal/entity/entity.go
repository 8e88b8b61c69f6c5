package entity

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"

	"github.com/tourney-sync/internal/domain"
	"github.com/tourney-sync/internal/transport"
)

// Entity is the in-memory mirror of one remote object.
//
// Entities are not safe for concurrent use; one tree belongs to one logical
// session.
type Entity struct {
	ctx      *Context
	behavior Behavior
	schema   *Schema

	id       string
	fields   map[string]any
	snapshot map[string]any
	loaded   bool
	dead     bool
	// deadID keeps the id an entity had when it was killed, for errors.
	deadID string

	// parent does not own this entity; it is only walked to propagate dirty
	// state and to resolve parent-derived ids.
	parent    *Entity
	children  []*Entity
	dirtyKids map[*Entity]struct{}
	// fetched records child kinds already listed from the service.
	fetched map[Kind]bool
}

// New creates a NEW entity with schema defaults.
func New(c *Context, b Behavior) *Entity {
	e := newEntity(c, b)
	e.fields = e.schema.defaults()
	return e
}

// Open creates a handle for an existing remote object that has not been
// loaded yet. It starts clean.
func Open(c *Context, b Behavior, id string) *Entity {
	e := newEntity(c, b)
	e.id = id
	if e.schema.IDField != "" {
		e.fields[e.schema.IDField] = id
		e.snapshot[e.schema.IDField] = id
	}
	return e
}

func newEntity(c *Context, b Behavior) *Entity {
	return &Entity{
		ctx:       c,
		behavior:  b,
		schema:    b.Schema(),
		fields:    make(map[string]any),
		snapshot:  make(map[string]any),
		dirtyKids: make(map[*Entity]struct{}),
		fetched:   make(map[Kind]bool),
	}
}

// Kind returns the entity kind.
func (e *Entity) Kind() Kind { return e.schema.Kind }

// ID returns the remote id, or "" for NEW and DEAD entities.
func (e *Entity) ID() string { return e.id }

// Context returns the context the entity was created with.
func (e *Entity) Context() *Context { return e.ctx }

// Behavior returns the kind behavior.
func (e *Entity) Behavior() Behavior { return e.behavior }

// Schema returns the kind schema.
func (e *Entity) Schema() *Schema { return e.schema }

// Parent returns the owning entity, or nil.
func (e *Entity) Parent() *Entity { return e.parent }

// IsNew reports whether the entity has never been persisted.
func (e *Entity) IsNew() bool { return !e.dead && e.id == "" }

// IsDead reports whether the entity was deleted or discarded.
func (e *Entity) IsDead() bool { return e.dead }

// Alive returns a *domain.DeadEntityError for a DEAD entity, nil otherwise.
func (e *Entity) Alive() error {
	if e.dead {
		return e.deadErr()
	}
	return nil
}

// IsLoaded reports whether the entity was loaded or imported from the service.
func (e *Entity) IsLoaded() bool { return e.loaded }

// IsDirty reports whether the entity or any descendant has changes the
// service has not confirmed. NEW entities are always dirty.
func (e *Entity) IsDirty() bool {
	return !e.dead && (e.id == "" || e.selfDirty() || len(e.dirtyKids) > 0)
}

// HasChanges reports whether the entity's own fields differ from the
// snapshot, ignoring children.
func (e *Entity) HasChanges() bool {
	return !e.dead && e.selfDirty()
}

func (e *Entity) selfDirty() bool {
	for k, v := range e.fields {
		if !e.schema.IsReadOnly(k) && !reflect.DeepEqual(v, e.snapshot[k]) {
			return true
		}
	}
	for k, v := range e.snapshot {
		if _, ok := e.fields[k]; !ok && !e.schema.IsReadOnly(k) && v != nil {
			return true
		}
	}
	return false
}

// Changes returns the writable fields whose value differs from the snapshot.
func (e *Entity) Changes() map[string]any {
	out := make(map[string]any)
	if e.dead {
		return out
	}
	for k, v := range e.fields {
		if !e.schema.IsReadOnly(k) && !reflect.DeepEqual(v, e.snapshot[k]) {
			out[k] = v
		}
	}
	return out
}

// Fields returns a copy of the current values.
func (e *Entity) Fields() map[string]any {
	return copyValues(e.fields)
}

// Snapshot returns a copy of the last confirmed values.
func (e *Entity) Snapshot() map[string]any {
	return copyValues(e.snapshot)
}

// Value returns the in-memory value of a field without loading. DEAD
// entities return nil for every field.
func (e *Entity) Value(name string) any {
	if e.dead {
		return nil
	}
	return e.fields[name]
}

// Has reports whether the field is present in memory.
func (e *Entity) Has(name string) bool {
	if e.dead {
		return false
	}
	_, ok := e.fields[name]
	return ok
}

// Default returns the schema default of a field.
func (e *Entity) Default(name string) any {
	return normalize(e.schema.Default(name))
}

// Set writes a field and propagates dirty state to every ancestor.
func (e *Entity) Set(name string, value any) error {
	if e.dead {
		return e.deadErr()
	}
	if e.schema.IsReadOnly(name) {
		return &domain.ReadOnlyFieldError{Kind: string(e.schema.Kind), Field: name}
	}
	if !e.schema.Known(name) {
		return domain.Invalid(string(e.schema.Kind), "set", fmt.Errorf("%w: %s", domain.ErrUnknownField, name))
	}
	e.fields[name] = normalize(value)
	e.propagate()
	return nil
}

// Assign writes a field without the read-only check. It is meant for kind
// behaviors that keep server-owned fields in step with a local action.
func (e *Entity) Assign(name string, value any) error {
	if e.dead {
		return e.deadErr()
	}
	e.fields[name] = normalize(value)
	e.propagate()
	return nil
}

// Unset removes a field so that the next Get may load it.
func (e *Entity) Unset(name string) error {
	if e.dead {
		return e.deadErr()
	}
	if e.schema.IsReadOnly(name) {
		return &domain.ReadOnlyFieldError{Kind: string(e.schema.Kind), Field: name}
	}
	delete(e.fields, name)
	e.propagate()
	return nil
}

// Import replaces fields and snapshot with decoded remote values and marks
// the entity loaded and clean. The id is taken from the schema's id field
// when present.
func (e *Entity) Import(values map[string]any) {
	if e.dead {
		return
	}
	e.fields = copyValues(values)
	e.snapshot = copyValues(values)
	if id := transport.Stringify(values[e.schema.IDField]); e.schema.IDField != "" && id != "" {
		e.id = id
	} else if e.id != "" && e.schema.IDField != "" {
		e.fields[e.schema.IDField] = e.id
		e.snapshot[e.schema.IDField] = e.id
	}
	e.loaded = true
	e.propagate()
}

// Confirm records values the service echoed back for fields already
// committed, without marking them as local changes.
func (e *Entity) Confirm(values map[string]any) {
	if e.dead {
		return
	}
	for k, v := range values {
		v = normalize(v)
		e.fields[k] = v
		e.snapshot[k] = cloneValue(v)
	}
	e.propagate()
}

// Commit marks the current values as confirmed by the service.
func (e *Entity) Commit() {
	if e.dead {
		return
	}
	e.snapshot = copyValues(e.fields)
	e.propagate()
}

// AssignID records the id the service assigned to a NEW entity.
func (e *Entity) AssignID(id string) {
	if e.dead {
		return
	}
	e.id = id
	if e.schema.IDField != "" {
		e.fields[e.schema.IDField] = id
		e.snapshot[e.schema.IDField] = id
	}
	e.propagate()
}

// ClearID returns a persisted entity to NEW, keeping its fields. Used when
// the service revokes the remote object, as with an unreported match.
func (e *Entity) ClearID() {
	if e.dead {
		return
	}
	e.id = ""
	if e.schema.IDField != "" {
		delete(e.fields, e.schema.IDField)
		delete(e.snapshot, e.schema.IDField)
	}
	e.propagate()
}

// String returns a field rendered as text.
func (e *Entity) String(name string) string {
	return transport.Stringify(e.Value(name))
}

// Int returns a numeric field, or 0.
func (e *Entity) Int(name string) int {
	switch v := e.Value(name).(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

// Float returns a numeric field, or 0.
func (e *Entity) Float(name string) float64 {
	switch v := e.Value(name).(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// Bool returns a boolean field. The service encodes flags as 0/1 as often
// as true/false.
func (e *Entity) Bool(name string) bool {
	switch v := e.Value(name).(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return false
}

// Children returns the live children of a kind in insertion order. An empty
// kind returns every child.
func (e *Entity) Children(kind Kind) []*Entity {
	var out []*Entity
	for _, c := range e.children {
		if kind == "" || c.schema.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the child of a kind with the given id, or nil.
func (e *Entity) Child(kind Kind, id string) *Entity {
	if id == "" {
		return nil
	}
	for _, c := range e.children {
		if c.schema.Kind == kind && c.id == id {
			return c
		}
	}
	return nil
}

// DirtyChildren returns the dirty children in insertion order.
func (e *Entity) DirtyChildren() []*Entity {
	var out []*Entity
	for _, c := range e.children {
		if _, ok := e.dirtyKids[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ChildrenFetched reports whether the children of a kind were already listed
// from the service.
func (e *Entity) ChildrenFetched(kind Kind) bool {
	return e.fetched[kind]
}

// MarkChildrenFetched records that the children of a kind were listed.
func (e *Entity) MarkChildrenFetched(kind Kind) {
	if !e.dead {
		e.fetched[kind] = true
	}
}

// AddChild attaches a parentless entity.
func (e *Entity) AddChild(child *Entity) error {
	if e.dead {
		return e.deadErr()
	}
	if child.dead {
		return child.deadErr()
	}
	if child.parent != nil || child == e {
		return domain.Invalid(string(child.schema.Kind), "attach", domain.ErrAlreadyAttached)
	}
	child.parent = e
	e.children = append(e.children, child)
	child.propagate()
	return nil
}

// RemoveChild detaches child without any remote call. Unless preserve is
// set the child is discarded and every later operation on it fails.
func (e *Entity) RemoveChild(child *Entity, preserve bool) error {
	if e.dead {
		return e.deadErr()
	}
	if child.parent != e {
		return domain.Invalid(string(child.schema.Kind), "remove", domain.ErrNotChild)
	}
	e.detach(child)
	if !preserve {
		child.kill()
	}
	return nil
}

// RemoveChildren discards every child of a kind.
func (e *Entity) RemoveChildren(kind Kind) {
	for _, c := range e.Children(kind) {
		e.detach(c)
		c.kill()
	}
}

func (e *Entity) detach(child *Entity) {
	if i := slices.Index(e.children, child); i >= 0 {
		e.children = slices.Delete(e.children, i, i+1)
	}
	delete(e.dirtyKids, child)
	child.parent = nil
	e.propagate()
}

// propagate pushes e's dirty state into its ancestors' dirty-child sets. It
// stops at the first ancestor whose own dirty state did not change.
func (e *Entity) propagate() {
	child := e
	for p := e.parent; p != nil; child, p = p, p.parent {
		was := p.IsDirty()
		if child.IsDirty() {
			p.dirtyKids[child] = struct{}{}
		} else {
			delete(p.dirtyKids, child)
		}
		if p.IsDirty() == was {
			return
		}
	}
}

// kill marks e and its subtree DEAD. Callers detach e from its parent first.
func (e *Entity) kill() {
	for _, c := range e.children {
		c.parent = nil
		c.kill()
	}
	e.dead = true
	if e.id != "" {
		e.deadID = e.id
	}
	e.id = ""
	e.fields = map[string]any{}
	e.snapshot = map[string]any{}
	e.children = nil
	e.dirtyKids = map[*Entity]struct{}{}
	e.fetched = map[Kind]bool{}
	e.parent = nil
}

func (e *Entity) deadErr() error {
	return &domain.DeadEntityError{Kind: string(e.schema.Kind), ID: e.deadID}
}

// normalize maps every numeric type to float64 so that values read from JSON
// and values written locally compare equal.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalize(item)
		}
		return out
	}
	return v
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	}
	return v
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = cloneValue(normalize(v))
	}
	return out
}
