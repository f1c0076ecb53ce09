package world

import "github.com/google/uuid"

// Universe holds every loaded world keyed by id.
// Accessed only from the game loop goroutine.
type Universe struct {
	worlds map[uuid.UUID]*Grid
	byName map[string]uuid.UUID
}

func NewUniverse() *Universe {
	return &Universe{
		worlds: make(map[uuid.UUID]*Grid),
		byName: make(map[string]uuid.UUID),
	}
}

// Load returns the loaded world with this name, creating it with a fresh id
// if needed.
func (u *Universe) Load(name string) *Grid {
	if id, ok := u.byName[name]; ok {
		return u.worlds[id]
	}
	g := NewGrid(uuid.New(), name)
	u.worlds[g.id] = g
	u.byName[name] = g.id
	return g
}

// Unload drops a world. Returns false if it was not loaded.
func (u *Universe) Unload(id uuid.UUID) bool {
	g, ok := u.worlds[id]
	if !ok {
		return false
	}
	delete(u.worlds, id)
	delete(u.byName, g.name)
	return true
}

func (u *Universe) World(id uuid.UUID) (BlockAccess, bool) {
	g, ok := u.worlds[id]
	if !ok {
		return nil, false
	}
	return g, true
}

func (u *Universe) Grid(id uuid.UUID) (*Grid, bool) {
	g, ok := u.worlds[id]
	return g, ok
}

func (u *Universe) Count() int {
	return len(u.worlds)
}
