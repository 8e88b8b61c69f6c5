package entity

import (
	"context"
	"fmt"

	"github.com/tourney-sync/internal/domain"
)

// Get returns a field, loading the entity first if the field is absent, the
// entity has an id, and it has not been loaded yet. A field the service does
// not return reads as nil.
func (e *Entity) Get(ctx context.Context, name string) (any, error) {
	if e.dead {
		return nil, nil
	}
	if v, ok := e.fields[name]; ok {
		return v, nil
	}
	if err := e.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	return e.Value(name), nil
}

// EnsureLoaded loads the entity once. It does nothing for NEW entities, for
// entities already loaded or imported, and for kinds that cannot be loaded.
func (e *Entity) EnsureLoaded(ctx context.Context) error {
	if e.dead {
		return e.deadErr()
	}
	if e.id == "" || e.loaded {
		return nil
	}
	if _, ok := e.behavior.(Loader); !ok {
		return nil
	}
	return e.Load(ctx)
}

// Load reads the entity from the service, through the response cache. The
// snapshot is replaced; unsaved local changes are kept on top of it.
func (e *Entity) Load(ctx context.Context) error {
	if e.dead {
		return e.deadErr()
	}
	kind := string(e.schema.Kind)
	if e.id == "" {
		return domain.Invalid(kind, "load", domain.ErrNotPersisted)
	}
	loader, ok := e.behavior.(Loader)
	if !ok {
		return domain.Invalid(kind, "load", domain.ErrUnsupported)
	}
	req, err := loader.LoadRequest(e)
	if err != nil {
		return err
	}
	res, err := e.ctx.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("loading %s %s: %w", kind, e.id, err)
	}

	pending := e.Changes()
	if err := loader.Loaded(ctx, e, res); err != nil {
		return fmt.Errorf("decoding %s %s: %w", kind, e.id, err)
	}
	for k, v := range pending {
		e.fields[k] = v
	}
	e.loaded = true
	e.propagate()
	return nil
}

// Save persists the entity and every dirty descendant.
//
// A clean entity returns nil without contacting the service. When only
// children are dirty the entity itself is not sent. Children are saved after
// the entity has an id, grouped by kind in the order they were added. The
// first failure is returned, but independent siblings are still attempted
// and nothing already saved is rolled back.
func (e *Entity) Save(ctx context.Context) error {
	if e.dead {
		return e.deadErr()
	}
	if !e.IsDirty() {
		return nil
	}
	if e.id == "" || e.selfDirty() {
		if err := e.saveSelf(ctx); err != nil {
			return err
		}
	}
	return e.saveChildren(ctx)
}

func (e *Entity) saveSelf(ctx context.Context) error {
	kind := string(e.schema.Kind)
	if e.id == "" {
		creator, ok := e.behavior.(Creator)
		if !ok {
			return domain.Invalid(kind, "create", domain.ErrUnsupported)
		}
		req, err := creator.CreateRequest(e)
		if err != nil {
			return err
		}
		res, err := e.ctx.Call(ctx, req)
		if err != nil {
			return fmt.Errorf("creating %s: %w", kind, err)
		}
		id, err := creator.Created(e, res)
		if err != nil {
			return fmt.Errorf("creating %s: %w", kind, err)
		}
		e.AssignID(id)
	} else {
		updater, ok := e.behavior.(Updater)
		if !ok {
			return domain.Invalid(kind, "update", domain.ErrUnsupported)
		}
		req, err := updater.UpdateRequest(e)
		if err != nil {
			return err
		}
		if _, err := e.ctx.Call(ctx, req); err != nil {
			return fmt.Errorf("updating %s %s: %w", kind, e.id, err)
		}
	}
	e.Commit()
	e.invalidate(ctx)
	return nil
}

func (e *Entity) saveChildren(ctx context.Context) error {
	var kinds []Kind
	groups := make(map[Kind][]*Entity)
	for _, c := range e.DirtyChildren() {
		k := c.schema.Kind
		if _, ok := groups[k]; !ok {
			kinds = append(kinds, k)
		}
		groups[k] = append(groups[k], c)
	}

	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	batcher, canBatch := e.behavior.(ChildBatcher)
	for _, kind := range kinds {
		dirty := groups[kind]
		if canBatch {
			handled, err := batcher.SaveChildren(ctx, e, kind, dirty)
			if handled {
				record(err)
				continue
			}
		}
		for _, c := range dirty {
			record(c.Save(ctx))
		}
	}
	return first
}

// invalidate drops the cached results the kind declares stale for e.
func (e *Entity) invalidate(ctx context.Context) {
	if inv, ok := e.behavior.(Invalidator); ok {
		e.ctx.Invalidate(ctx, inv.Invalidations(e)...)
	}
}

// Reset reverts local changes.
//
// A persisted entity gets its snapshot back; persisted children are reset and
// NEW children discarded. A NEW entity with a parent is itself discarded. A
// NEW root returns to its defaults and stays NEW.
func (e *Entity) Reset() error {
	if e.dead {
		return e.deadErr()
	}
	if e.id == "" {
		if e.parent != nil {
			e.parent.detach(e)
			e.kill()
			return nil
		}
		for _, c := range e.Children("") {
			e.detach(c)
			c.kill()
		}
		e.fields = e.schema.defaults()
		e.snapshot = make(map[string]any)
		return nil
	}

	e.fields = copyValues(e.snapshot)
	for _, c := range e.Children("") {
		if c.id == "" {
			e.detach(c)
			c.kill()
			continue
		}
		if err := c.Reset(); err != nil {
			return err
		}
	}
	e.propagate()
	return nil
}

// Delete removes the entity remotely, unless it is NEW, then discards it and
// its subtree. On failure nothing changes locally.
func (e *Entity) Delete(ctx context.Context) error {
	if e.dead {
		return e.deadErr()
	}
	if e.id != "" {
		kind := string(e.schema.Kind)
		deleter, ok := e.behavior.(Deleter)
		if !ok {
			return domain.Invalid(kind, "delete", domain.ErrUnsupported)
		}
		req, err := deleter.DeleteRequest(e)
		if err != nil {
			return err
		}
		if _, err := e.ctx.Call(ctx, req); err != nil {
			return fmt.Errorf("deleting %s %s: %w", kind, e.id, err)
		}
		e.invalidate(ctx)
	}
	if e.parent != nil {
		e.parent.detach(e)
	}
	e.kill()
	return nil
}
