package kb

import (
	"sync"

	"github.com/cognicore/reason/pkg/reason/lang"
)

// Kind distinguishes what a class collects. Membership classes group
// subjects; relationship classes group grounded relation instances.
type Kind uint8

const (
	Membership Kind = iota + 1
	Relationship
)

func (k Kind) String() string {
	if k == Relationship {
		return "relationship"
	}
	return "membership"
}

// Class is the fact container for a named set. Besides the subject
// side it shares with entities (a class can itself belong to classes
// and take part in relations), it tracks its own member facts, the
// relation instances grouped under it, and the constraint rules
// asserted over it.
type Class struct {
	name string
	kind Kind
	container

	memberMu   sync.RWMutex
	members    []*lang.GroundedMembership
	relMembers []*lang.GroundedRelation
	rules      []*lang.Sentence
}

func newClass(name string, kind Kind) *Class {
	return &Class{name: name, kind: kind, container: newContainer()}
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Kind returns what the class collects.
func (c *Class) Kind() Kind { return c.kind }

// Members returns the current membership facts of the class's members.
// Facts are shared with the member containers and update in place.
func (c *Class) Members() []*lang.GroundedMembership {
	c.memberMu.RLock()
	defer c.memberMu.RUnlock()
	out := make([]*lang.GroundedMembership, len(c.members))
	copy(out, c.members)
	return out
}

// RelMembers returns the stored instances of a relationship class.
func (c *Class) RelMembers() []*lang.GroundedRelation {
	c.memberMu.RLock()
	defer c.memberMu.RUnlock()
	out := make([]*lang.GroundedRelation, len(c.relMembers))
	copy(out, c.relMembers)
	return out
}

// Rules returns the constraint sentences asserted over the class.
func (c *Class) Rules() []*lang.Sentence {
	c.memberMu.RLock()
	defer c.memberMu.RUnlock()
	out := make([]*lang.Sentence, len(c.rules))
	copy(out, c.rules)
	return out
}

// addMember registers a first-seen membership fact on the member list.
// Updates to an existing fact mutate the shared instance instead.
func (c *Class) addMember(m *lang.GroundedMembership) {
	c.memberMu.Lock()
	defer c.memberMu.Unlock()
	c.members = append(c.members, m)
}

func (c *Class) addRelMember(r *lang.GroundedRelation) {
	c.memberMu.Lock()
	defer c.memberMu.Unlock()
	c.relMembers = append(c.relMembers, r)
}

func (c *Class) addRule(s *lang.Sentence) {
	c.memberMu.Lock()
	defer c.memberMu.Unlock()
	c.rules = append(c.rules, s)
}
