package lang

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cognicore/reason/pkg/reason/internalerr"
)

// GroundedMembership is a fuzzy-valued, time-stamped assertion that a
// subject belongs to a parent class. Stored facts always carry the "="
// operator; "<" and ">" appear only on query-side facts.
//
// The assertion-time history keeps the newest entry last; the newest
// entry is the effective timestamp used by the supersede tie-break.
type GroundedMembership struct {
	mu      sync.RWMutex
	subject string
	parent  string
	hasVal  bool
	value   float64
	op      CompOp
	times   []time.Time
}

// NewMembership builds a membership fact for subject in parent. A zero
// at stamps the fact with the present wall clock.
func NewMembership(subject, parent string, value float64, op CompOp, at time.Time) *GroundedMembership {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &GroundedMembership{
		subject: subject,
		parent:  parent,
		hasVal:  true,
		value:   value,
		op:      op,
		times:   []time.Time{at},
	}
}

// NewBareMembership builds a membership fact that carries no truth
// value. Comparing against it is a contract violation, but storing it
// is legal.
func NewBareMembership(subject, parent string, at time.Time) *GroundedMembership {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &GroundedMembership{subject: subject, parent: parent, times: []time.Time{at}}
}

// Subject returns the member name. Entity subjects keep their sigil.
func (m *GroundedMembership) Subject() string { return m.subject }

// Parent returns the class the subject belongs to.
func (m *GroundedMembership) Parent() string { return m.parent }

// Value returns the truth degree and whether one is present.
func (m *GroundedMembership) Value() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value, m.hasVal
}

// Operator returns the comparison operator attached to the value.
func (m *GroundedMembership) Operator() CompOp {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.op
}

// Time returns the effective assertion time, false when unstamped.
func (m *GroundedMembership) Time() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.times) == 0 {
		return time.Time{}, false
	}
	return m.times[len(m.times)-1], true
}

// Comparable reports whether other talks about the same subject and
// parent class, ignoring values.
func (m *GroundedMembership) Comparable(other *GroundedMembership) bool {
	return m.subject == other.subject && m.parent == other.parent
}

// Update merges other into the fact in place. The later-stamped record
// wins regardless of arrival order: a record older than the current
// effective time lands in history without displacing the visible
// value, and an identical re-tell changes nothing. The caller must
// have checked comparability.
func (m *GroundedMembership) Update(other *GroundedMembership) {
	ov, ook := other.Value()
	oop := other.Operator()
	ot, otok := other.Time()
	m.mu.Lock()
	defer m.mu.Unlock()
	if otok && len(m.times) > 0 {
		last := m.times[len(m.times)-1]
		if ot.Before(last) {
			i := sort.Search(len(m.times), func(i int) bool { return m.times[i].After(ot) })
			m.times = slices.Insert(m.times, i, ot)
			return
		}
		if ot.Equal(last) && m.hasVal == ook && (!ook || m.value == ov) && m.op == oop {
			return
		}
	}
	m.value, m.hasVal = ov, ook
	m.op = oop
	if otok {
		m.times = append(m.times, ot)
	}
}

// Satisfies reports whether this stored fact meets the truth condition
// of the query fact q. The stored operator must be "=" and both facts
// must carry values; anything else is a contract violation.
func (m *GroundedMembership) Satisfies(q *GroundedMembership) (bool, error) {
	if !m.Comparable(q) {
		return false, fmt.Errorf("%w: comparing %s against %s", internalerr.ErrContract, m, q)
	}
	sv, sok := m.Value()
	qv, qok := q.Value()
	if !sok || !qok {
		return false, fmt.Errorf("%w: %s has no truth value", internalerr.ErrContract, m.parent)
	}
	if m.Operator() != OpEqual {
		return false, fmt.Errorf("%w: stored fact %s has operator %s", internalerr.ErrContract, m, m.Operator())
	}
	return compareValues(sv, qv, q.Operator())
}

// Equal reports content equality: same subject, parent, operator, value
// and effective time.
func (m *GroundedMembership) Equal(other *GroundedMembership) bool {
	if !m.Comparable(other) {
		return false
	}
	sv, sok := m.Value()
	ov, ook := other.Value()
	if sok != ook || (sok && sv != ov) || m.Operator() != other.Operator() {
		return false
	}
	st, stok := m.Time()
	ot, otok := other.Time()
	return stok == otok && (!stok || st.Equal(ot))
}

// Clone returns a detached copy of the fact.
func (m *GroundedMembership) Clone() *GroundedMembership {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := &GroundedMembership{
		subject: m.subject,
		parent:  m.parent,
		hasVal:  m.hasVal,
		value:   m.value,
		op:      m.op,
		times:   make([]time.Time, len(m.times)),
	}
	copy(c.times, m.times)
	return c
}

func (m *GroundedMembership) String() string {
	v, ok := m.Value()
	if !ok {
		return fmt.Sprintf("%s[%s]", m.parent, m.subject)
	}
	return fmt.Sprintf("%s[%s,u%s%s]", m.parent, m.subject, m.Operator(), formatValue(v))
}

// RelArg is one argument slot of a grounded relation. Each slot can
// carry its own truth degree, like a membership fact.
type RelArg struct {
	Name   string
	HasVal bool
	Value  float64
	Op     CompOp
}

// GroundedRelation states that a named relation holds between one to
// three grounded subjects.
type GroundedRelation struct {
	mu    sync.RWMutex
	name  string
	args  []RelArg
	times []time.Time
}

// NewRelation builds a relation fact. A zero at stamps the fact with
// the present wall clock.
func NewRelation(name string, args []RelArg, at time.Time) (*GroundedRelation, error) {
	if len(args) < 1 || len(args) > 3 {
		return nil, fmt.Errorf("%w: relation %s takes 1 to 3 arguments, got %d", internalerr.ErrInvalidInput, name, len(args))
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	cp := make([]RelArg, len(args))
	copy(cp, args)
	return &GroundedRelation{name: name, args: cp, times: []time.Time{at}}, nil
}

// Name returns the relation name.
func (r *GroundedRelation) Name() string { return r.name }

// Arity returns the number of argument slots.
func (r *GroundedRelation) Arity() int { return len(r.args) }

// Args returns a copy of the argument slots.
func (r *GroundedRelation) Args() []RelArg {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make([]RelArg, len(r.args))
	copy(cp, r.args)
	return cp
}

// Subjects returns the grounded subject names in argument order.
func (r *GroundedRelation) Subjects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.args))
	for i, a := range r.args {
		names[i] = a.Name
	}
	return names
}

// Value returns the relation's overall truth degree: the first argument
// slot that carries one.
func (r *GroundedRelation) Value() (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.args {
		if a.HasVal {
			return a.Value, true
		}
	}
	return 0, false
}

// Time returns the effective assertion time, false when unstamped.
func (r *GroundedRelation) Time() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.times) == 0 {
		return time.Time{}, false
	}
	return r.times[len(r.times)-1], true
}

// Comparable reports whether other is the same relation instance shape:
// same name, same arity and the same subjects in order, ignoring
// values. Used to detect "same relation, different truth value" for
// update in place.
func (r *GroundedRelation) Comparable(other *GroundedRelation) bool {
	if r.name != other.name {
		return false
	}
	ra, oa := r.Args(), other.Args()
	if len(ra) != len(oa) {
		return false
	}
	for i := range ra {
		if ra[i].Name != oa[i].Name {
			return false
		}
	}
	return true
}

// Update merges other's argument values into the instance in place,
// with the same later-stamped-wins ordering as membership updates. The
// caller must have checked comparability.
func (r *GroundedRelation) Update(other *GroundedRelation) {
	oa := other.Args()
	ot, otok := other.Time()
	r.mu.Lock()
	defer r.mu.Unlock()
	if otok && len(r.times) > 0 {
		last := r.times[len(r.times)-1]
		if ot.Before(last) {
			i := sort.Search(len(r.times), func(i int) bool { return r.times[i].After(ot) })
			r.times = slices.Insert(r.times, i, ot)
			return
		}
		if ot.Equal(last) && slices.Equal(r.args, oa) {
			return
		}
	}
	for i := range r.args {
		r.args[i].HasVal = oa[i].HasVal
		r.args[i].Value = oa[i].Value
		r.args[i].Op = oa[i].Op
	}
	if otok {
		r.times = append(r.times, ot)
	}
}

// Satisfies reports whether this stored relation meets the truth
// conditions of the query relation q, argument by argument. Comparing
// incomparable relations, or querying a value the stored fact does not
// carry, is a contract violation.
func (r *GroundedRelation) Satisfies(q *GroundedRelation) (bool, error) {
	if !r.Comparable(q) {
		return false, fmt.Errorf("%w: comparing %s against %s", internalerr.ErrContract, r, q)
	}
	ra, qa := r.Args(), q.Args()
	for i := range qa {
		if !qa[i].HasVal {
			continue
		}
		if !ra[i].HasVal {
			return false, fmt.Errorf("%w: %s argument %s has no truth value", internalerr.ErrContract, r.name, ra[i].Name)
		}
		if ra[i].Op != OpEqual {
			return false, fmt.Errorf("%w: stored fact %s has operator %s", internalerr.ErrContract, r, ra[i].Op)
		}
		ok, err := compareValues(ra[i].Value, qa[i].Value, qa[i].Op)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

// Equal reports content equality: comparable, same argument values and
// operators, same effective time.
func (r *GroundedRelation) Equal(other *GroundedRelation) bool {
	if !r.Comparable(other) {
		return false
	}
	ra, oa := r.Args(), other.Args()
	for i := range ra {
		if ra[i] != oa[i] {
			return false
		}
	}
	rt, rtok := r.Time()
	ot, otok := other.Time()
	return rtok == otok && (!rtok || rt.Equal(ot))
}

// Clone returns a detached copy of the relation.
func (r *GroundedRelation) Clone() *GroundedRelation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &GroundedRelation{
		name:  r.name,
		args:  make([]RelArg, len(r.args)),
		times: make([]time.Time, len(r.times)),
	}
	copy(c.args, r.args)
	copy(c.times, r.times)
	return c
}

func (r *GroundedRelation) String() string {
	args := r.Args()
	parts := make([]string, len(args))
	for i, a := range args {
		if a.HasVal {
			parts[i] = fmt.Sprintf("%s,u%s%s", a.Name, a.Op, formatValue(a.Value))
		} else {
			parts[i] = a.Name
		}
	}
	return fmt.Sprintf("fn::%s[%s]", r.name, strings.Join(parts, ";"))
}

// compareValues evaluates a stored "=" value against a queried value
// under the query's operator.
func compareValues(stored, queried float64, op CompOp) (bool, error) {
	switch op {
	case OpEqual:
		return stored == queried, nil
	case OpMore:
		return stored > queried, nil
	case OpLess:
		return stored < queried, nil
	default:
		return false, fmt.Errorf("%w: operator %s in value comparison", internalerr.ErrContract, op)
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
