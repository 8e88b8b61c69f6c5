// Package entity implements the dirty-tracking tree that mirrors remote
// tournament objects and synchronizes it with the service.
//
// An Entity holds the current field values, the last values confirmed by the
// service, and its owned children. Kind-specific behavior (which services to
// call and how to read their responses) is supplied by a Behavior resolved
// from a Registry.
package entity

import (
	"context"
	"slices"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/transport"
)

// Kind names a concrete entity type.
type Kind string

// Schema describes the fields of one kind.
type Schema struct {
	Kind Kind
	// IDField is the response member carrying the remote id. It is always
	// treated as read-only.
	IDField  string
	Fields   []string
	ReadOnly []string
	Defaults map[string]any
}

// Known reports whether name may be written with Set or Assign.
func (s *Schema) Known(name string) bool {
	return name == s.IDField || slices.Contains(s.Fields, name) || slices.Contains(s.ReadOnly, name)
}

// IsReadOnly reports whether name is owned by the remote service.
func (s *Schema) IsReadOnly(name string) bool {
	return name == s.IDField || slices.Contains(s.ReadOnly, name)
}

// Default returns the value a never-written field starts with.
func (s *Schema) Default(name string) any {
	return s.Defaults[name]
}

func (s *Schema) defaults() map[string]any {
	out := make(map[string]any, len(s.Defaults))
	for k, v := range s.Defaults {
		out[k] = normalize(v)
	}
	return out
}

// Request is one prepared service call.
type Request struct {
	Service string
	Args    map[string]any
	// Scope keys the cached result of a load.
	Scope cache.Scope
	// NoCache forces the call through to the transport.
	NoCache bool
}

// Behavior supplies the schema of a kind. Everything else is optional and
// discovered through the capability interfaces below.
type Behavior interface {
	Schema() *Schema
}

// Loader reads an entity from the service.
type Loader interface {
	LoadRequest(e *Entity) (Request, error)
	// Loaded applies a successful response, usually through Import, and
	// materializes any children the response carries.
	Loaded(ctx context.Context, e *Entity, res *transport.Result) error
}

// Creator persists a NEW entity.
type Creator interface {
	CreateRequest(e *Entity) (Request, error)
	// Created returns the id assigned by the service.
	Created(e *Entity, res *transport.Result) (string, error)
}

// Updater persists local changes of an existing entity.
type Updater interface {
	UpdateRequest(e *Entity) (Request, error)
}

// Deleter removes an existing entity remotely.
type Deleter interface {
	DeleteRequest(e *Entity) (Request, error)
}

// ChildBatcher lets a parent submit all dirty children of one kind in a
// single call. Returning handled=false falls back to saving each child.
type ChildBatcher interface {
	SaveChildren(ctx context.Context, parent *Entity, kind Kind, dirty []*Entity) (handled bool, err error)
}

// Invalidator names the cached results made stale by a successful save or
// delete of e.
type Invalidator interface {
	Invalidations(e *Entity) []cache.Filter
}
