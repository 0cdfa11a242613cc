package infer

import (
	"sync"
	"time"

	"github.com/cognicore/reason/pkg/reason/lang"
)

// Proof is one answered cell for a (predicate, subject) pair. HasAt is
// set on derived answers, carrying the derivation instant proofs are
// tie-broken by; direct store checks carry no instant.
type Proof struct {
	Value bool
	At    time.Time
	HasAt bool
}

// Results collects what one ask run established: per grounded query a
// truth cell (nil while undetermined), plus the facts enumerated for
// free-subject and free-class queries.
type Results struct {
	mu          sync.RWMutex
	grounded    map[string]map[string]*Proof
	memberships map[string][]*lang.GroundedMembership
	relations   map[string][]*lang.GroundedRelation
}

func newResults() *Results {
	return &Results{
		grounded:    map[string]map[string]*Proof{},
		memberships: map[string][]*lang.GroundedMembership{},
		relations:   map[string][]*lang.GroundedRelation{},
	}
}

// ensure records that the cell is being worked on, so an unproven
// query reads as undetermined rather than unasked.
func (rs *Results) ensure(pred, subject string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	cells := rs.cells(pred)
	if _, ok := cells[subject]; !ok {
		cells[subject] = nil
	}
}

// setDirect stores the outcome of a direct store check.
func (rs *Results) setDirect(pred, subject string, val bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.cells(pred)[subject] = &Proof{Value: val}
}

// supersede stores a proved value unless the existing cell carries a
// later derivation instant. Proofs without an instant never replace
// dated ones. It reports whether the value was stored.
func (rs *Results) supersede(pred, subject string, val bool, at time.Time, hasAt bool) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	cells := rs.cells(pred)
	if cur := cells[subject]; cur != nil && cur.HasAt {
		if !hasAt || at.Before(cur.At) {
			return false
		}
	}
	cells[subject] = &Proof{Value: val, At: at, HasAt: hasAt}
	return true
}

func (rs *Results) cells(pred string) map[string]*Proof {
	cells := rs.grounded[pred]
	if cells == nil {
		cells = map[string]*Proof{}
		rs.grounded[pred] = cells
	}
	return cells
}

func (rs *Results) addMembership(subject string, m *lang.GroundedMembership) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, cur := range rs.memberships[subject] {
		if cur == m {
			return
		}
	}
	rs.memberships[subject] = append(rs.memberships[subject], m)
}

func (rs *Results) addRelation(subject string, rel *lang.GroundedRelation) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, cur := range rs.relations[subject] {
		if cur == rel {
			return
		}
	}
	rs.relations[subject] = append(rs.relations[subject], rel)
}

// Grounded returns the truth cells keyed by predicate then subject.
// Nil cells are queries that stayed undetermined.
func (rs *Results) Grounded() map[string]map[string]*Proof {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make(map[string]map[string]*Proof, len(rs.grounded))
	for pred, cells := range rs.grounded {
		cp := make(map[string]*Proof, len(cells))
		for subject, p := range cells {
			cp[subject] = p
		}
		out[pred] = cp
	}
	return out
}

// Memberships returns, per enumerated subject, the membership facts
// that satisfied a free-subject or free-class query.
func (rs *Results) Memberships() map[string][]*lang.GroundedMembership {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make(map[string][]*lang.GroundedMembership, len(rs.memberships))
	for subject, facts := range rs.memberships {
		out[subject] = append([]*lang.GroundedMembership(nil), facts...)
	}
	return out
}

// Relations returns, per enumerated subject, the relation instances
// that satisfied a free-subject relation query.
func (rs *Results) Relations() map[string][]*lang.GroundedRelation {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make(map[string][]*lang.GroundedRelation, len(rs.relations))
	for subject, rels := range rs.relations {
		out[subject] = append([]*lang.GroundedRelation(nil), rels...)
	}
	return out
}
