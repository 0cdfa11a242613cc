package lang

import (
	"fmt"
	"strings"
	"time"

	"github.com/cognicore/reason/pkg/reason/internalerr"
)

// Assert is one compiled atomic predicate: a class declaration like
// "professor[$Lucy,u=1]" or a relation declaration like
// "fn::sells[$M1,u=1;$West;$Nono]". Sentences evaluate asserts against
// the store under a variable assignment, and ground them to derive new
// facts.
type Assert interface {
	// Name returns the predicate name: the parent class, the relation
	// name, or the variable name for free class/relation positions.
	Name() string
	// IsClass distinguishes class declarations from relations.
	IsClass() bool
	// ParentIsGrounded reports whether the class/relation position is
	// a concrete name rather than a variable.
	ParentIsGrounded() bool
	// ParentVar returns the class/relation position variable, nil when
	// grounded.
	ParentVar() *Var
	// Contains reports whether v appears as an argument subject.
	Contains(v *Var) bool
	// ContainsTimeVar reports whether v appears in a time attribute.
	ContainsTimeVar(v *Var) bool
	// Truth evaluates the predicate against the store under the
	// context's assignment. Nil means unknown.
	Truth(ev *EvalCtx) (*bool, error)
	// Ground materializes the predicate as stored facts under the
	// context's assignment.
	Ground(ev *EvalCtx) error
	// ID returns a structural identity for content addressing.
	ID() string

	fmt.Stringer
}

// PredArg is one compiled predicate argument: a subject term with an
// optional truth condition.
type PredArg struct {
	Term Term
	UVal *UVal
}

// TimeOpArg is a compiled time attribute on a predicate: either a
// reference to a declared time variable or a fixed instant.
type TimeOpArg struct {
	Var  *Var
	Spec *TimeSpec
}

// ClassDecl is a compiled class-membership predicate. Each argument
// asserts (or tests) that its subject belongs to the parent class.
type ClassDecl struct {
	parent Term
	args   []PredArg
	timeOp *TimeOpArg
}

// Parent returns the class-position term.
func (c *ClassDecl) Parent() Term { return c.parent }

// Args returns the compiled arguments.
func (c *ClassDecl) Args() []PredArg { return c.args }

// TimeOp returns the time attribute, nil when absent.
func (c *ClassDecl) TimeOp() *TimeOpArg { return c.timeOp }

func (c *ClassDecl) Name() string { return c.parent.Name() }

func (c *ClassDecl) IsClass() bool { return true }

func (c *ClassDecl) ParentIsGrounded() bool { return !c.parent.IsVar() }

func (c *ClassDecl) ParentVar() *Var { return c.parent.Var() }

func (c *ClassDecl) Contains(v *Var) bool {
	for _, a := range c.args {
		if a.Term.Var() == v {
			return true
		}
	}
	return false
}

func (c *ClassDecl) ContainsTimeVar(v *Var) bool {
	return c.timeOp != nil && c.timeOp.Var == v
}

// Truth tests every argument's membership in the parent class. An
// argument whose subject has no current fact makes the result unknown;
// a failed truth condition makes it false.
func (c *ClassDecl) Truth(ev *EvalCtx) (*bool, error) {
	if c.parent.IsVar() {
		return nil, fmt.Errorf("%w: free class position %q in evaluation", internalerr.ErrContract, c.parent.Name())
	}
	parent := c.parent.Name()
	for _, a := range c.args {
		stored, known, err := c.currentFor(ev, a, parent)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, nil
		}
		ok, err := membershipSatisfies(stored, parent, a)
		if err != nil {
			return nil, err
		}
		c.applyTime(ev, stored)
		if !ok {
			return boolPtr(false), nil
		}
		if passes, err := c.timeFilter(ev, stored); err != nil || !passes {
			return boolPtr(false), err
		}
	}
	return boolPtr(true), nil
}

// currentFor resolves the store's current fact for one argument.
func (c *ClassDecl) currentFor(ev *EvalCtx, a PredArg, parent string) (*GroundedMembership, bool, error) {
	if v := a.Term.Var(); v != nil {
		if ev.Assign == nil {
			return nil, false, nil
		}
		va := ev.Assign[v]
		if va == nil {
			return nil, false, nil
		}
		stored := va.Class(parent)
		if stored == nil {
			return nil, false, nil
		}
		return stored, true, nil
	}
	stored := ev.Facts.CurrentMembership(a.Term.Name(), parent)
	if stored == nil {
		return nil, false, nil
	}
	return stored, true, nil
}

// applyTime binds the declared time variable to the matched fact's
// assertion time.
func (c *ClassDecl) applyTime(ev *EvalCtx, stored *GroundedMembership) {
	if c.timeOp == nil || c.timeOp.Var == nil {
		return
	}
	if at, ok := stored.Time(); ok {
		ev.TimeAssign[c.timeOp.Var] = at
	}
}

// timeFilter applies a literal time attribute as an equality test on
// the matched fact's assertion time.
func (c *ClassDecl) timeFilter(ev *EvalCtx, stored *GroundedMembership) (bool, error) {
	if c.timeOp == nil || c.timeOp.Spec == nil {
		return true, nil
	}
	at, ok := stored.Time()
	if !ok {
		return false, nil
	}
	return at.Equal(c.timeOp.Spec.Resolve(ev.Now)), nil
}

// Ground materializes one membership fact per argument under the
// current assignment.
func (c *ClassDecl) Ground(ev *EvalCtx) error {
	if c.parent.IsVar() {
		return fmt.Errorf("%w: free class position %q in consequent", internalerr.ErrContract, c.parent.Name())
	}
	parent := c.parent.Name()
	at := c.groundStamp(ev)
	for _, a := range c.args {
		subject, ok := ev.Binding(a.Term)
		if !ok {
			return fmt.Errorf("%w: unbound variable %q in consequent", internalerr.ErrContract, a.Term.Name())
		}
		m, err := newStoredMembership(subject, parent, a.UVal, at)
		if err != nil {
			return err
		}
		if err := ev.Facts.AssertMembership(m); err != nil {
			return err
		}
		rec := GroundedRecord{Membership: m}
		rec.At, _ = m.Time()
		ev.record(rec)
	}
	return nil
}

// groundStamp resolves the assertion time for derived facts: a bound
// time variable, a literal, or zero for "stamp at insertion".
func (c *ClassDecl) groundStamp(ev *EvalCtx) time.Time {
	if c.timeOp == nil {
		return time.Time{}
	}
	if c.timeOp.Var != nil {
		return ev.TimeAssign[c.timeOp.Var]
	}
	return c.timeOp.Spec.Resolve(ev.Now)
}

// ToMemberships converts a fully grounded declaration into stored
// facts, one per argument.
func (c *ClassDecl) ToMemberships() ([]*GroundedMembership, error) {
	if c.parent.IsVar() {
		return nil, fmt.Errorf("%w: free class position %q in assertion", internalerr.ErrContract, c.parent.Name())
	}
	var at time.Time
	if c.timeOp != nil {
		if c.timeOp.Spec == nil {
			return nil, fmt.Errorf("%w: assertion time must be a literal", internalerr.ErrInvalidInput)
		}
		at = c.timeOp.Spec.Resolve(time.Now().UTC())
	}
	out := make([]*GroundedMembership, 0, len(c.args))
	for _, a := range c.args {
		if a.Term.IsVar() {
			return nil, fmt.Errorf("%w: free subject %q in assertion", internalerr.ErrContract, a.Term.Name())
		}
		m, err := newStoredMembership(a.Term.Name(), c.parent.Name(), a.UVal, at)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// QueryFacts converts the declaration into query-side facts under an
// optional assignment, preserving the queried operators.
func (c *ClassDecl) QueryFacts(ev *EvalCtx) ([]*GroundedMembership, error) {
	out := make([]*GroundedMembership, 0, len(c.args))
	for _, a := range c.args {
		subject := a.Term.Name()
		if ev != nil {
			if s, ok := ev.Binding(a.Term); ok {
				subject = s
			}
		}
		out = append(out, queryMembership(subject, c.parent.Name(), a.UVal))
	}
	return out, nil
}

func (c *ClassDecl) ID() string {
	var b strings.Builder
	b.WriteString("c|")
	b.WriteString(termID(c.parent))
	for _, a := range c.args {
		b.WriteByte('|')
		b.WriteString(termID(a.Term))
		b.WriteString(uvalID(a.UVal))
	}
	if c.timeOp != nil {
		b.WriteString("|t")
	}
	return b.String()
}

func (c *ClassDecl) String() string {
	parts := make([]string, len(c.args))
	for i, a := range c.args {
		parts[i] = a.Term.Name() + uvalID(a.UVal)
	}
	return fmt.Sprintf("%s%s[%s]", c.parent.Name(), timeOpSource(c.timeOp), strings.Join(parts, ";"))
}

// timeOpSource renders a time attribute back to source form, so that
// String round-trips through the parser.
func timeOpSource(op *TimeOpArg) string {
	if op == nil {
		return ""
	}
	if op.Var != nil {
		return fmt.Sprintf("(time=%s)", op.Var.Name)
	}
	return fmt.Sprintf("(time=%q)", op.Spec.String())
}

// FuncVariant distinguishes stored relations from builtins.
type FuncVariant uint8

const (
	// Relational is an ordinary 1 to 3 argument relation.
	Relational FuncVariant = iota
	// TimeCalcFn is the fn::time_calc builtin comparing bound time
	// variables.
	TimeCalcFn
)

// TimeCalcCmp is the compiled comparison carried by fn::time_calc.
type TimeCalcCmp struct {
	L, R *Var
	Op   CompOp
}

// FuncDecl is a compiled relation predicate.
type FuncDecl struct {
	name    Term
	args    []PredArg
	timeOp  *TimeOpArg
	variant FuncVariant
	timeCmp *TimeCalcCmp
}

// Variant returns the declaration's variant.
func (f *FuncDecl) Variant() FuncVariant { return f.variant }

// Args returns the compiled arguments.
func (f *FuncDecl) Args() []PredArg { return f.args }

// TimeOp returns the time attribute, nil when absent.
func (f *FuncDecl) TimeOp() *TimeOpArg { return f.timeOp }

func (f *FuncDecl) Name() string {
	if f.variant == TimeCalcFn {
		return "time_calc"
	}
	return f.name.Name()
}

func (f *FuncDecl) IsClass() bool { return false }

func (f *FuncDecl) ParentIsGrounded() bool {
	return f.variant == TimeCalcFn || !f.name.IsVar()
}

func (f *FuncDecl) ParentVar() *Var { return f.name.Var() }

func (f *FuncDecl) Contains(v *Var) bool {
	for _, a := range f.args {
		if a.Term.Var() == v {
			return true
		}
	}
	return false
}

func (f *FuncDecl) ContainsTimeVar(v *Var) bool {
	if f.timeOp != nil && f.timeOp.Var == v {
		return true
	}
	return f.timeCmp != nil && (f.timeCmp.L == v || f.timeCmp.R == v)
}

// Truth evaluates the relation against the store under the context's
// assignment. For time_calc it compares bound time variables instead.
func (f *FuncDecl) Truth(ev *EvalCtx) (*bool, error) {
	if f.variant == TimeCalcFn {
		return f.timeCalc(ev)
	}
	if f.name.IsVar() {
		return nil, fmt.Errorf("%w: free relation position %q in evaluation", internalerr.ErrContract, f.name.Name())
	}
	q, bound, err := f.queryRelation(ev)
	if err != nil {
		return nil, err
	}
	if !bound {
		return nil, nil
	}
	stored := f.currentFor(ev, q)
	if stored == nil {
		return nil, nil
	}
	ok, err := stored.Satisfies(q)
	if err != nil {
		return nil, err
	}
	f.applyTime(ev, stored)
	if !ok {
		return boolPtr(false), nil
	}
	if passes, err := f.timeFilter(ev, stored); err != nil || !passes {
		return boolPtr(false), err
	}
	return boolPtr(true), nil
}

func (f *FuncDecl) timeCalc(ev *EvalCtx) (*bool, error) {
	lt, lok := ev.TimeAssign[f.timeCmp.L]
	rt, rok := ev.TimeAssign[f.timeCmp.R]
	if !lok || !rok {
		return nil, nil
	}
	var res bool
	switch f.timeCmp.Op {
	case OpLess:
		res = lt.Before(rt)
	case OpMore:
		res = lt.After(rt)
	case OpEqual:
		res = lt.Equal(rt)
	default:
		return nil, fmt.Errorf("%w: operator %s in time_calc", internalerr.ErrContract, f.timeCmp.Op)
	}
	return boolPtr(res), nil
}

// currentFor finds the stored relation instance comparable to the
// query: through the first bound variable's assignment when the
// declaration has variables, otherwise through the store.
func (f *FuncDecl) currentFor(ev *EvalCtx, q *GroundedRelation) *GroundedRelation {
	for _, a := range f.args {
		if v := a.Term.Var(); v != nil {
			if ev.Assign == nil {
				return nil
			}
			va := ev.Assign[v]
			if va == nil {
				return nil
			}
			return va.Relationship(q)
		}
	}
	return ev.Facts.CurrentRelation(q)
}

func (f *FuncDecl) applyTime(ev *EvalCtx, stored *GroundedRelation) {
	if f.timeOp == nil || f.timeOp.Var == nil {
		return
	}
	if at, ok := stored.Time(); ok {
		ev.TimeAssign[f.timeOp.Var] = at
	}
}

func (f *FuncDecl) timeFilter(ev *EvalCtx, stored *GroundedRelation) (bool, error) {
	if f.timeOp == nil || f.timeOp.Spec == nil {
		return true, nil
	}
	at, ok := stored.Time()
	if !ok {
		return false, nil
	}
	return at.Equal(f.timeOp.Spec.Resolve(ev.Now)), nil
}

// queryRelation substitutes the current assignment into the
// declaration, producing a query-side relation. bound is false when
// some variable has no assignment yet.
func (f *FuncDecl) queryRelation(ev *EvalCtx) (*GroundedRelation, bool, error) {
	relArgs := make([]RelArg, len(f.args))
	for i, a := range f.args {
		subject, ok := "", false
		if ev != nil {
			subject, ok = ev.Binding(a.Term)
		} else if !a.Term.IsVar() {
			subject, ok = a.Term.Name(), true
		}
		if !ok {
			return nil, false, nil
		}
		relArgs[i] = RelArg{Name: subject}
		if a.UVal != nil {
			relArgs[i].HasVal = true
			relArgs[i].Value = a.UVal.Val
			relArgs[i].Op = a.UVal.Op
		}
	}
	q, err := NewRelation(f.name.Name(), relArgs, time.Time{})
	if err != nil {
		return nil, false, err
	}
	return q, true, nil
}

// Ground materializes the relation as a stored fact under the current
// assignment.
func (f *FuncDecl) Ground(ev *EvalCtx) error {
	if f.variant == TimeCalcFn {
		return fmt.Errorf("%w: time_calc in consequent", internalerr.ErrContract)
	}
	if f.name.IsVar() {
		return fmt.Errorf("%w: free relation position %q in consequent", internalerr.ErrContract, f.name.Name())
	}
	relArgs := make([]RelArg, len(f.args))
	for i, a := range f.args {
		subject, ok := ev.Binding(a.Term)
		if !ok {
			return fmt.Errorf("%w: unbound variable %q in consequent", internalerr.ErrContract, a.Term.Name())
		}
		relArgs[i] = RelArg{Name: subject}
		if a.UVal != nil {
			if a.UVal.Op != OpEqual {
				return fmt.Errorf("%w: operator %s on stored fact", internalerr.ErrContract, a.UVal.Op)
			}
			relArgs[i].HasVal = true
			relArgs[i].Value = a.UVal.Val
			relArgs[i].Op = OpEqual
		}
	}
	at := time.Time{}
	if f.timeOp != nil {
		if f.timeOp.Var != nil {
			at = ev.TimeAssign[f.timeOp.Var]
		} else {
			at = f.timeOp.Spec.Resolve(ev.Now)
		}
	}
	r, err := NewRelation(f.name.Name(), relArgs, at)
	if err != nil {
		return err
	}
	if err := ev.Facts.AssertRelation(r); err != nil {
		return err
	}
	rec := GroundedRecord{Relation: r}
	rec.At, _ = r.Time()
	ev.record(rec)
	return nil
}

// ToRelation converts a fully grounded declaration into a stored fact.
func (f *FuncDecl) ToRelation() (*GroundedRelation, error) {
	if f.variant == TimeCalcFn {
		return nil, fmt.Errorf("%w: time_calc in assertion", internalerr.ErrContract)
	}
	if f.name.IsVar() {
		return nil, fmt.Errorf("%w: free relation position %q in assertion", internalerr.ErrContract, f.name.Name())
	}
	var at time.Time
	if f.timeOp != nil {
		if f.timeOp.Spec == nil {
			return nil, fmt.Errorf("%w: assertion time must be a literal", internalerr.ErrInvalidInput)
		}
		at = f.timeOp.Spec.Resolve(time.Now().UTC())
	}
	relArgs := make([]RelArg, len(f.args))
	for i, a := range f.args {
		if a.Term.IsVar() {
			return nil, fmt.Errorf("%w: free subject %q in assertion", internalerr.ErrContract, a.Term.Name())
		}
		relArgs[i] = RelArg{Name: a.Term.Name()}
		if a.UVal != nil {
			relArgs[i].HasVal = true
			relArgs[i].Value = a.UVal.Val
			relArgs[i].Op = a.UVal.Op
		}
	}
	return NewRelation(f.name.Name(), relArgs, at)
}

// QueryRelation converts the declaration into a query-side relation
// under an optional assignment.
func (f *FuncDecl) QueryRelation(ev *EvalCtx) (*GroundedRelation, bool, error) {
	return f.queryRelation(ev)
}

func (f *FuncDecl) ID() string {
	var b strings.Builder
	b.WriteString("f|")
	if f.variant == TimeCalcFn {
		b.WriteString("time_calc|")
		b.WriteString(f.timeCmp.L.Name)
		b.WriteString(f.timeCmp.Op.String())
		b.WriteString(f.timeCmp.R.Name)
		return b.String()
	}
	b.WriteString(termID(f.name))
	for _, a := range f.args {
		b.WriteByte('|')
		b.WriteString(termID(a.Term))
		b.WriteString(uvalID(a.UVal))
	}
	if f.timeOp != nil {
		b.WriteString("|t")
	}
	return b.String()
}

func (f *FuncDecl) String() string {
	if f.variant == TimeCalcFn {
		return fmt.Sprintf("fn::time_calc(%s%s%s)", f.timeCmp.L.Name, f.timeCmp.Op, f.timeCmp.R.Name)
	}
	parts := make([]string, len(f.args))
	for i, a := range f.args {
		parts[i] = a.Term.Name() + uvalID(a.UVal)
	}
	return fmt.Sprintf("fn::%s%s[%s]", f.name.Name(), timeOpSource(f.timeOp), strings.Join(parts, ";"))
}

// newStoredMembership builds a store-side fact from a compiled
// argument, enforcing the stored-operator invariant.
func newStoredMembership(subject, parent string, uv *UVal, at time.Time) (*GroundedMembership, error) {
	if uv == nil {
		return NewBareMembership(subject, parent, at), nil
	}
	if uv.Op != OpEqual {
		return nil, fmt.Errorf("%w: operator %s on stored fact", internalerr.ErrContract, uv.Op)
	}
	return NewMembership(subject, parent, uv.Val, OpEqual, at), nil
}

// queryMembership builds a query-side fact preserving the queried
// operator. A nil condition yields a bare presence query.
func queryMembership(subject, parent string, uv *UVal) *GroundedMembership {
	if uv == nil {
		return NewBareMembership(subject, parent, time.Time{})
	}
	return NewMembership(subject, parent, uv.Val, uv.Op, time.Time{})
}

// membershipSatisfies tests a stored fact against one compiled
// argument's truth condition. No condition means presence suffices.
func membershipSatisfies(stored *GroundedMembership, parent string, a PredArg) (bool, error) {
	if a.UVal == nil {
		return true, nil
	}
	subject := stored.Subject()
	return stored.Satisfies(NewMembership(subject, parent, a.UVal.Val, a.UVal.Op, time.Time{}))
}

func termID(t Term) string {
	if t.IsVar() {
		return "?" + t.Name()
	}
	return t.Name()
}

func uvalID(uv *UVal) string {
	if uv == nil {
		return ""
	}
	return ",u" + uv.Op.String() + formatValue(uv.Val)
}

func boolPtr(b bool) *bool { return &b }
