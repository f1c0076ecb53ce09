package track

import (
	"fmt"

	"go.uber.org/zap"
)

// Registry is the ordered strategy set. Earlier registrations win when more
// than one type recognizes a cell. Accessed only from the game loop goroutine.
type Registry struct {
	types  []Type
	byName map[string]Type
	log    *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		types:  make([]Type, 0, 8),
		byName: make(map[string]Type, 8),
		log:    log,
	}
}

// Register appends t at the lowest priority.
func (r *Registry) Register(t Type) error {
	if IsNone(t) {
		return fmt.Errorf("register %q: reserved type", t.Name())
	}
	if _, dup := r.byName[t.Name()]; dup {
		return fmt.Errorf("register %q: name already registered", t.Name())
	}
	t.registration().registered = true
	r.types = append(r.types, t)
	r.byName[t.Name()] = t
	r.log.Debug("track type registered",
		zap.String("type", t.Name()),
		zap.Int("priority", len(r.types)-1))
	return nil
}

// Unregister removes the named type. Callers must invalidate cached records
// of the returned type afterwards.
func (r *Registry) Unregister(name string) (Type, bool) {
	t, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	delete(r.byName, name)
	for i, cur := range r.types {
		if cur == t {
			r.types = append(r.types[:i:i], r.types[i+1:]...)
			break
		}
	}
	t.registration().registered = false
	r.log.Debug("track type unregistered", zap.String("type", name))
	return t, true
}

// Types returns the strategies in priority order. The slice must not be modified.
func (r *Registry) Types() []Type {
	return r.types
}

func (r *Registry) Get(name string) (Type, bool) {
	t, ok := r.byName[name]
	return t, ok
}

func (r *Registry) Len() int {
	return len(r.types)
}
