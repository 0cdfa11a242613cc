package lang

import "time"

// Facts is the knowledge-store surface sentence evaluation reads from
// and writes derived facts back into. The knowledge base implements it.
type Facts interface {
	// CurrentMembership returns the store's current fact for subject
	// in parent, nil when unknown.
	CurrentMembership(subject, parent string) *GroundedMembership
	// CurrentRelation returns the stored relation instance comparable
	// to q, nil when unknown.
	CurrentRelation(q *GroundedRelation) *GroundedRelation
	// AssertMembership materializes a derived membership fact.
	AssertMembership(m *GroundedMembership) error
	// AssertRelation materializes a derived relation fact.
	AssertRelation(r *GroundedRelation) error
}

// VarAssignment is one candidate binding of a variable to a grounded
// subject, carrying the subject's qualifying facts so evaluation can
// look them up without another store round trip.
type VarAssignment struct {
	// Name is the bound subject's name.
	Name    string
	classes map[string]*GroundedMembership
	funcs   map[string][]*GroundedRelation
}

// NewVarAssignment builds a binding for subject name with its
// qualifying membership facts keyed by parent class and relation facts
// keyed by relation name.
func NewVarAssignment(name string, classes map[string]*GroundedMembership, funcs map[string][]*GroundedRelation) *VarAssignment {
	if classes == nil {
		classes = map[string]*GroundedMembership{}
	}
	if funcs == nil {
		funcs = map[string][]*GroundedRelation{}
	}
	return &VarAssignment{Name: name, classes: classes, funcs: funcs}
}

// Class returns the subject's current fact for the parent class, nil
// when none qualified.
func (va *VarAssignment) Class(parent string) *GroundedMembership {
	return va.classes[parent]
}

// Relationship returns the subject's stored relation instance
// comparable to q, nil when none qualified.
func (va *VarAssignment) Relationship(q *GroundedRelation) *GroundedRelation {
	for _, r := range va.funcs[q.Name()] {
		if r.Comparable(q) {
			return r
		}
	}
	return nil
}

// GroundedRecord is one fact materialized by consequent substitution,
// paired with the instant it was derived.
type GroundedRecord struct {
	Membership *GroundedMembership
	Relation   *GroundedRelation
	At         time.Time
}

// EvalCtx threads one sentence evaluation: the store surface, the
// variable bindings under test, time-variable bindings, and the record
// of facts the evaluation derived. Each evaluation owns its context;
// nothing here is shared across tasks.
type EvalCtx struct {
	Facts  Facts
	Assign map[*Var]*VarAssignment
	// TimeAssign holds time-variable bindings picked up from matched
	// antecedent facts or from declaration defaults.
	TimeAssign map[*Var]time.Time
	// Now anchors "*now" declarations for the whole evaluation.
	Now time.Time
	// InclusiveOr switches disjunction from the default exclusive-or
	// truth table to inclusive or.
	InclusiveOr bool
	// Grounded accumulates the facts substitution wrote to the store.
	Grounded []GroundedRecord
}

// NewEvalCtx builds an evaluation context over the store surface with
// the given variable bindings. Assign may be nil for ground sentences.
func NewEvalCtx(facts Facts, assign map[*Var]*VarAssignment) *EvalCtx {
	return &EvalCtx{
		Facts:      facts,
		Assign:     assign,
		TimeAssign: map[*Var]time.Time{},
		Now:        time.Now().UTC(),
	}
}

// Binding resolves a term to a concrete subject name under the current
// assignment. The second result is false for an unbound variable.
func (ev *EvalCtx) Binding(t Term) (string, bool) {
	if !t.IsVar() {
		return t.Name(), true
	}
	if ev.Assign == nil {
		return "", false
	}
	va, ok := ev.Assign[t.Var()]
	if !ok || va == nil {
		return "", false
	}
	return va.Name, true
}

// record notes a fact written to the store during substitution.
func (ev *EvalCtx) record(rec GroundedRecord) {
	ev.Grounded = append(ev.Grounded, rec)
}
