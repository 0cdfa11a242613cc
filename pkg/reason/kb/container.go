package kb

import (
	"sync"

	"github.com/cognicore/reason/pkg/reason/lang"
)

// container is the fact box shared by entities and classes: the
// subject's current memberships, the relations it takes part in, and
// the sentences indexed under it by predicate name.
type container struct {
	mu        sync.RWMutex
	classes   map[string]*lang.GroundedMembership
	relations map[string][]*lang.GroundedRelation
	beliefs   map[string][]*lang.Sentence
}

func newContainer() container {
	return container{
		classes:   map[string]*lang.GroundedMembership{},
		relations: map[string][]*lang.GroundedRelation{},
		beliefs:   map[string][]*lang.Sentence{},
	}
}

// BelongsToClass returns the subject's current membership fact in the
// parent class, nil when it has none.
func (c *container) BelongsToClass(parent string) *lang.GroundedMembership {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.classes[parent]
}

// Memberships returns the subject's current membership facts that pass
// keep. A nil keep returns all of them.
func (c *container) Memberships(keep func(*lang.GroundedMembership) bool) []*lang.GroundedMembership {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*lang.GroundedMembership, 0, len(c.classes))
	for _, m := range c.classes {
		if keep == nil || keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// addMembership inserts or updates the current fact for the fact's
// parent class. It reports whether the fact was new to this subject.
func (c *container) addMembership(m *lang.GroundedMembership) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.classes[m.Parent()]; ok {
		cur.Update(m)
		return false
	}
	c.classes[m.Parent()] = m
	return true
}

// currentRelation returns the stored instance comparable to q, nil
// when none is known.
func (c *container) currentRelation(q *lang.GroundedRelation) *lang.GroundedRelation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.relations[q.Name()] {
		if r.Comparable(q) {
			return r
		}
	}
	return nil
}

// addRelation inserts or updates the stored instance comparable to r.
// It reports whether the instance was new to this subject.
func (c *container) addRelation(r *lang.GroundedRelation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cur := range c.relations[r.Name()] {
		if cur.Comparable(r) {
			cur.Update(r)
			return false
		}
	}
	c.relations[r.Name()] = append(c.relations[r.Name()], r)
	return true
}

func (c *container) addBelief(pred string, s *lang.Sentence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beliefs[pred] = append(c.beliefs[pred], s)
}

// BeliefsFor returns the sentences indexed under the predicate name.
func (c *container) BeliefsFor(pred string) []*lang.Sentence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*lang.Sentence, len(c.beliefs[pred]))
	copy(out, c.beliefs[pred])
	return out
}
