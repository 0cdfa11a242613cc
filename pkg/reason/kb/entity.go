package kb

// Entity is the fact container for a unique individual, a "$"-sigil
// subject.
type Entity struct {
	name string
	container
}

func newEntity(name string) *Entity {
	return &Entity{name: name, container: newContainer()}
}

// Name returns the entity name, sigil included.
func (e *Entity) Name() string { return e.name }
