package lang

import "strings"

// EntitySigil prefixes names that denote unique individuals. Every other
// grounded name denotes a class (a set, possibly a subclass of another set).
const EntitySigil = "$"

// Reserved identifiers the grammar claims for itself. They are rejected as
// class, relation and variable names at parse time.
var reservedWords = map[string]struct{}{
	"let":       {},
	"exists":    {},
	"fn":        {},
	"time":      {},
	"time_calc": {},
}

// IsReserved reports whether name is a reserved identifier.
func IsReserved(name string) bool {
	_, ok := reservedWords[name]
	return ok
}

// IsEntityName reports whether a grounded name denotes an entity rather
// than a class.
func IsEntityName(name string) bool {
	return strings.HasPrefix(name, EntitySigil)
}

// CompOp is the comparison operator attached to a fuzzy truth value.
type CompOp uint8

const (
	// OpNone marks a value slot that carries no comparison at all.
	OpNone CompOp = iota
	// OpEqual is "=", the only operator legal on a stored fact.
	OpEqual
	// OpLess is "<", legal in query position only.
	OpLess
	// OpMore is ">", legal in query position only.
	OpMore
)

func (op CompOp) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpLess:
		return "<"
	case OpMore:
		return ">"
	default:
		return "none"
	}
}

// Var is a universally quantified variable, local to one sentence.
// Identity is pointer identity: two declarations of the same name in
// nested scopes are distinct variables.
type Var struct {
	Name string

	// id is assigned by the compiler and is unique within the sentence,
	// surviving name shadowing. Used for binding dedup keys.
	id int

	// Time marks a variable declared with the ":time" attribute. Time
	// variables never bind to subjects; they bind to assertion times.
	Time bool
	// TimeDefault carries the declaration payload of a time variable,
	// e.g. `t:time="*now"`. Nil when the variable is bound by an
	// antecedent predicate instead.
	TimeDefault *TimeSpec
}

// ID returns the compiler-assigned sentence-local id.
func (v *Var) ID() int { return v.id }

// Skolem is an existentially quantified constant local to one sentence.
type Skolem struct {
	Name string
	id   int
}

// Term is a predicate argument subject: either a grounded name or a
// reference to an in-scope variable.
type Term struct {
	name string
	v    *Var
}

// GroundedT builds a term for a concrete entity or class name.
func GroundedT(name string) Term { return Term{name: name} }

// VarT builds a term referencing an in-scope variable.
func VarT(v *Var) Term { return Term{v: v} }

// IsVar reports whether the term is a free variable reference.
func (t Term) IsVar() bool { return t.v != nil }

// Var returns the referenced variable, or nil for grounded terms.
func (t Term) Var() *Var { return t.v }

// Name returns the grounded subject name, or the variable's name for
// display purposes.
func (t Term) Name() string {
	if t.v != nil {
		return t.v.Name
	}
	return t.name
}

// IsEntity reports whether the term is grounded to an entity name.
func (t Term) IsEntity() bool { return t.v == nil && IsEntityName(t.name) }
