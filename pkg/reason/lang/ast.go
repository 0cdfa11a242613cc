package lang

// LogicOp identifies a logical connective.
type LogicOp uint8

const (
	logicNone LogicOp = iota
	// LogicAnd is "&&".
	LogicAnd
	// LogicOr is "||".
	LogicOr
	// LogicImplies is "=>", material implication.
	LogicImplies
	// LogicEquiv is "<=>", the biconditional.
	LogicEquiv
	// LogicICond is "|>", the indicative conditional heading every rule.
	LogicICond
)

func (op LogicOp) String() string {
	switch op {
	case LogicAnd:
		return "&&"
	case LogicOr:
		return "||"
	case LogicImplies:
		return "=>"
	case LogicEquiv:
		return "<=>"
	case LogicICond:
		return "|>"
	default:
		return "none"
	}
}

// UVal is a truth condition on a predicate argument: "u=1", "u>0.5".
type UVal struct {
	Op  CompOp
	Val float64
}

// astScope is one parenthesized scope: its locally declared variables
// and skolems plus the logical tree they are in force for.
type astScope struct {
	vars    []*astVarDecl
	skolems []*astVarDecl
	node    *astNode
	off     int
}

// astNode is a node of a scope's logical tree. Exactly one of op
// (with left/right), decl or scope is set.
type astNode struct {
	op    LogicOp
	left  *astNode
	right *astNode
	decl  *astDecl
	scope *astScope
	off   int
}

// astVarDecl is one name inside a "(let ...)" or "(exists ...)" group.
type astVarDecl struct {
	name       string
	timeAttr   bool
	payload    string
	hasPayload bool
	off        int
}

// astDecl is one predicate occurrence: a class declaration
// "pred[args]" or a relation declaration "fn::rel[args]", either with
// an optional "(op_args)" attribute group.
type astDecl struct {
	fn     bool
	name   string
	args   []astArg
	opArgs []astOpArg
	off    int
}

// astArg is one "[...]" argument: a subject term with an optional
// truth condition.
type astArg struct {
	name string
	uval *UVal
	off  int
}

// astOpArg is one "(...)" attribute: a bare identifier/string or a
// comparison between two of them, e.g. `time=t1` or `t1<t2`.
type astOpArg struct {
	lhs    string
	lhsStr bool
	op     CompOp
	rhs    string
	rhsStr bool
	off    int
}
