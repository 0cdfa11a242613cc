package lang

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cognicore/reason/pkg/reason/internalerr"
)

// SentKind classifies a compiled sentence.
type SentKind uint8

const (
	// SentBelief is a sentence headed by the indicative conditional:
	// an inference rule, or a grounded belief when it declares no
	// variables. Beliefs drive proof search.
	SentBelief SentKind = iota + 1
	// SentRule is a ground declarative sentence with no conditional:
	// a constraint asserted to hold over current facts.
	SentRule
	// SentQuery is a plain sentence with variables. Only legal when
	// asking; telling one is a parse error.
	SentQuery
)

func (k SentKind) String() string {
	switch k {
	case SentBelief:
		return "belief"
	case SentRule:
		return "rule"
	default:
		return "query"
	}
}

// seq disambiguates sentences compiled within one clock tick so that
// newest-first ordering is total.
var sentSeq atomic.Uint64

// Sentence is an immutable compiled formula: a connective tree over
// atomic predicates, the variables and skolems local to it, and the
// antecedent/consequent predicate split rules are indexed by.
type Sentence struct {
	particles []particle
	root      int
	vars      []*Var
	skolems   []*Skolem
	lhs       []Assert
	rhs       []Assert
	varReq    map[*Var][]Assert
	kind      SentKind
	created   time.Time
	seq       uint64
	id        string
}

// Kind returns the sentence classification.
func (s *Sentence) Kind() SentKind { return s.kind }

// Created returns the compile time, which orders rule precedence.
func (s *Sentence) Created() time.Time { return s.created }

// Seq returns the compile sequence number, a total-order tiebreak for
// sentences compiled within one clock tick.
func (s *Sentence) Seq() uint64 { return s.seq }

// ID returns the structural identity: equal for structurally identical
// sentences, enabling dedup of re-told rules.
func (s *Sentence) ID() string { return s.id }

// Vars returns the declared variables. Callers must not modify.
func (s *Sentence) Vars() []*Var { return s.vars }

// LHS returns the antecedent predicates of a belief.
func (s *Sentence) LHS() []Assert { return s.lhs }

// RHS returns the consequent predicates. For rules and queries it
// holds every predicate of the sentence.
func (s *Sentence) RHS() []Assert { return s.rhs }

// AllPredicates returns the antecedent and consequent predicates.
func (s *Sentence) AllPredicates() []Assert {
	out := make([]Assert, 0, len(s.lhs)+len(s.rhs))
	out = append(out, s.lhs...)
	out = append(out, s.rhs...)
	return out
}

// VarReq maps each subject variable to the antecedent predicates that
// constrain it. Candidate bindings must satisfy all of them.
func (s *Sentence) VarReq() map[*Var][]Assert { return s.varReq }

// Solve evaluates the sentence under the context's assignment. For
// beliefs, a defined result triggers substitution of the consequent,
// materializing derived facts into the store through the context.
func (s *Sentence) Solve(ev *EvalCtx) (*bool, error) {
	for _, v := range s.vars {
		if v.Time && v.TimeDefault != nil {
			ev.TimeAssign[v] = v.TimeDefault.Resolve(ev.Now)
		}
	}
	res, err := s.solveAt(s.root, ev)
	if err != nil {
		return nil, err
	}
	if res != nil && s.particles[s.root].kind == pICond {
		if err := s.substituteAt(s.root, ev, *res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Sentence) String() string {
	var b strings.Builder
	s.writeAt(&b, s.root)
	return b.String()
}

// Source renders the sentence back to parseable source text,
// declarations included. Telling the result reproduces the sentence.
func (s *Sentence) Source() string {
	if len(s.vars) == 0 && len(s.skolems) == 0 {
		return s.String()
	}
	var b strings.Builder
	b.WriteByte('(')
	if len(s.vars) > 0 {
		b.WriteString("(let ")
		for i, v := range s.vars {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(v.Name)
			if v.Time {
				b.WriteString(":time")
				if v.TimeDefault != nil {
					fmt.Fprintf(&b, "=%q", v.TimeDefault.String())
				}
			}
		}
		b.WriteByte(')')
	}
	if len(s.skolems) > 0 {
		b.WriteString("(exists ")
		for i, sk := range s.skolems {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(sk.Name)
		}
		b.WriteByte(')')
	}
	b.WriteByte(' ')
	s.writeAt(&b, s.root)
	b.WriteByte(')')
	return b.String()
}

func (s *Sentence) writeAt(b *strings.Builder, i int) {
	p := &s.particles[i]
	if p.kind == pAtom {
		b.WriteString(p.pred.String())
		return
	}
	b.WriteByte('(')
	s.writeAt(b, p.left)
	switch p.kind {
	case pConj:
		b.WriteString(" && ")
	case pDisj:
		b.WriteString(" || ")
	case pImpl:
		b.WriteString(" => ")
	case pEquiv:
		b.WriteString(" <=> ")
	case pICond:
		b.WriteString(" |> ")
	}
	s.writeAt(b, p.right)
	b.WriteByte(')')
}

// compileBlock turns one parsed block into an assertion list or a
// compiled sentence.
func compileBlock(scope *astScope, tell bool, opts ParseOpts) ParseResult {
	if len(scope.vars) == 0 && len(scope.skolems) == 0 && assertionShape(scope.node) {
		asserts, err := compileAssertions(scope, tell)
		if err != nil {
			return ParseResult{Err: err}
		}
		return ParseResult{Assertions: asserts}
	}
	c := &compiler{
		opts:    opts,
		tell:    tell,
		vars:    map[string]*Var{},
		skolems: map[string]*Skolem{},
		sent:    &Sentence{root: -1, created: time.Now().UTC(), seq: sentSeq.Add(1)},
	}
	sent, err := c.compile(scope)
	if err != nil {
		return ParseResult{Err: err}
	}
	return ParseResult{Sentence: sent}
}

// assertionShape reports whether a tree is a plain declaration or a
// conjunction chain of declarations, possibly inside bare parens.
func assertionShape(n *astNode) bool {
	switch {
	case n.decl != nil:
		return true
	case n.scope != nil:
		return len(n.scope.vars) == 0 && len(n.scope.skolems) == 0 && assertionShape(n.scope.node)
	case n.op == LogicAnd:
		return assertionShape(n.left) && assertionShape(n.right)
	default:
		return false
	}
}

// compileAssertions flattens an assertion block into grounded decls.
// When telling, every truth condition must use "=".
func compileAssertions(scope *astScope, tell bool) ([]Assert, error) {
	c := &compiler{vars: map[string]*Var{}, skolems: map[string]*Skolem{}}
	var decls []*astDecl
	flattenDecls(scope.node, &decls)
	out := make([]Assert, 0, len(decls))
	for _, d := range decls {
		a, err := c.compileDecl(d)
		if err != nil {
			return nil, err
		}
		if tell {
			if err := assertedOpsEqual(a, d.off); err != nil {
				return nil, err
			}
		}
		if fd, ok := a.(*FuncDecl); ok && fd.variant == TimeCalcFn {
			return nil, &internalerr.ParseError{Offset: d.off, Msg: "time_calc outside a rule"}
		}
		out = append(out, a)
	}
	return out, nil
}

func flattenDecls(n *astNode, out *[]*astDecl) {
	switch {
	case n.decl != nil:
		*out = append(*out, n.decl)
	case n.scope != nil:
		flattenDecls(n.scope.node, out)
	default:
		flattenDecls(n.left, out)
		flattenDecls(n.right, out)
	}
}

// assertedOpsEqual enforces the stored-fact invariant on a told
// assertion: "<" and ">" are query-only operators.
func assertedOpsEqual(a Assert, off int) error {
	check := func(args []PredArg) error {
		for _, arg := range args {
			if arg.UVal != nil && arg.UVal.Op != OpEqual {
				return &internalerr.ParseError{
					Offset: off,
					Msg:    fmt.Sprintf("operator %s cannot be asserted, only queried", arg.UVal.Op),
				}
			}
		}
		return nil
	}
	switch d := a.(type) {
	case *ClassDecl:
		return check(d.args)
	case *FuncDecl:
		return check(d.args)
	}
	return nil
}

// compiler threads one sentence compilation: the in-scope variable
// bindings with shadowing, and the particle arena being built.
type compiler struct {
	opts     ParseOpts
	tell     bool
	sent     *Sentence
	vars     map[string]*Var
	skolems  map[string]*Skolem
	nextID   int
	sawICond bool
	skolRefs map[*Skolem]bool
}

func (c *compiler) compile(scope *astScope) (*Sentence, error) {
	c.skolRefs = map[*Skolem]bool{}
	root, err := c.walkScope(scope)
	if err != nil {
		return nil, err
	}
	s := c.sent
	s.root = root
	switch {
	case len(s.vars) == 0 && !c.sawICond:
		s.kind = SentRule
	case c.sawICond:
		s.kind = SentBelief
	default:
		s.kind = SentQuery
		if c.tell {
			return nil, &internalerr.ParseError{
				Offset: scope.off,
				Msg:    "sentence with variables outside a conditional cannot be asserted",
			}
		}
	}
	if s.kind == SentBelief {
		if err := c.validateBelief(scope.off); err != nil {
			return nil, err
		}
	} else {
		// non-belief sentences keep every predicate on the consequent
		// side so registration and classification see all of them
		for i, p := range s.particles {
			if p.kind == pAtom {
				s.rhs = append(s.rhs, s.particles[i].pred)
			}
		}
	}
	if err := c.checkVarUse(scope.off); err != nil {
		return nil, err
	}
	s.id = c.structuralID()
	return s, nil
}

// walkScope declares the scope's variables, walks its tree and
// restores any shadowed outer bindings afterwards.
func (c *compiler) walkScope(scope *astScope) (int, error) {
	type savedVar struct {
		name string
		prev *Var
	}
	type savedSkol struct {
		name string
		prev *Skolem
	}
	var savedVars []savedVar
	var savedSkols []savedSkol
	for _, d := range scope.vars {
		v := &Var{Name: d.name, id: c.nextID}
		c.nextID++
		if d.timeAttr {
			v.Time = true
			if d.hasPayload {
				spec, err := ParseTimeSpec(d.payload)
				if err != nil {
					return -1, &internalerr.ParseError{Offset: d.off, Msg: err.Error()}
				}
				v.TimeDefault = &spec
			}
		}
		savedVars = append(savedVars, savedVar{d.name, c.vars[d.name]})
		c.vars[d.name] = v
		c.sent.vars = append(c.sent.vars, v)
	}
	for _, d := range scope.skolems {
		if d.timeAttr {
			return -1, &internalerr.ParseError{Offset: d.off, Msg: "skolems cannot carry the time attribute"}
		}
		sk := &Skolem{Name: d.name, id: c.nextID}
		c.nextID++
		savedSkols = append(savedSkols, savedSkol{d.name, c.skolems[d.name]})
		c.skolems[d.name] = sk
		c.sent.skolems = append(c.sent.skolems, sk)
	}
	idx, err := c.walkNode(scope.node)
	for _, sv := range savedVars {
		if sv.prev == nil {
			delete(c.vars, sv.name)
		} else {
			c.vars[sv.name] = sv.prev
		}
	}
	for _, ss := range savedSkols {
		if ss.prev == nil {
			delete(c.skolems, ss.name)
		} else {
			c.skolems[ss.name] = ss.prev
		}
	}
	return idx, err
}

func (c *compiler) walkNode(n *astNode) (int, error) {
	switch {
	case n.scope != nil:
		return c.walkScope(n.scope)
	case n.decl != nil:
		pred, err := c.compileDecl(n.decl)
		if err != nil {
			return -1, err
		}
		return c.addParticle(particle{kind: pAtom, left: -1, right: -1, pred: pred}), nil
	default:
		left, err := c.walkNode(n.left)
		if err != nil {
			return -1, err
		}
		right, err := c.walkNode(n.right)
		if err != nil {
			return -1, err
		}
		var kind particleKind
		switch n.op {
		case LogicAnd:
			kind = pConj
		case LogicOr:
			kind = pDisj
		case LogicImplies:
			kind = pImpl
		case LogicEquiv:
			kind = pEquiv
		case LogicICond:
			kind = pICond
			c.sawICond = true
		}
		return c.addParticle(particle{kind: kind, left: left, right: right}), nil
	}
}

func (c *compiler) addParticle(p particle) int {
	c.sent.particles = append(c.sent.particles, p)
	return len(c.sent.particles) - 1
}

// compileDecl resolves one predicate occurrence against the in-scope
// bindings.
func (c *compiler) compileDecl(d *astDecl) (Assert, error) {
	if d.fn && d.name == "time_calc" {
		return c.compileTimeCalc(d)
	}
	parent, err := c.resolveTerm(d.name, d.off)
	if err != nil {
		return nil, err
	}
	if v := parent.Var(); v != nil && v.Time {
		return nil, &internalerr.ParseError{Offset: d.off, Msg: fmt.Sprintf("time variable %q used as predicate", d.name)}
	}
	args := make([]PredArg, 0, len(d.args))
	for _, a := range d.args {
		t, err := c.resolveTerm(a.name, a.off)
		if err != nil {
			return nil, err
		}
		if v := t.Var(); v != nil && v.Time {
			return nil, &internalerr.ParseError{Offset: a.off, Msg: fmt.Sprintf("time variable %q used as subject", a.name)}
		}
		pa := PredArg{Term: t}
		if a.uval != nil {
			uv := *a.uval
			pa.UVal = &uv
		}
		args = append(args, pa)
	}
	timeOp, err := c.compileTimeOp(d)
	if err != nil {
		return nil, err
	}
	if d.fn {
		if len(args) > 3 {
			return nil, &internalerr.ParseError{Offset: d.off, Msg: fmt.Sprintf("relation %q takes at most 3 arguments", d.name)}
		}
		return &FuncDecl{name: parent, args: args, timeOp: timeOp, variant: Relational}, nil
	}
	return &ClassDecl{parent: parent, args: args, timeOp: timeOp}, nil
}

func (c *compiler) compileTimeCalc(d *astDecl) (Assert, error) {
	if len(d.opArgs) != 1 || d.opArgs[0].op == OpNone {
		return nil, &internalerr.ParseError{Offset: d.off, Msg: "time_calc takes a single comparison between time variables"}
	}
	oa := d.opArgs[0]
	l, err := c.resolveTimeVar(oa.lhs, oa.lhsStr, oa.off)
	if err != nil {
		return nil, err
	}
	r, err := c.resolveTimeVar(oa.rhs, oa.rhsStr, oa.off)
	if err != nil {
		return nil, err
	}
	return &FuncDecl{variant: TimeCalcFn, timeCmp: &TimeCalcCmp{L: l, R: r, Op: oa.op}}, nil
}

func (c *compiler) resolveTimeVar(name string, isString bool, off int) (*Var, error) {
	if isString {
		return nil, &internalerr.ParseError{Offset: off, Msg: "time_calc compares declared time variables"}
	}
	v, ok := c.vars[name]
	if !ok || !v.Time {
		return nil, &internalerr.ParseError{Offset: off, Msg: fmt.Sprintf("%q is not a declared time variable", name)}
	}
	return v, nil
}

// compileTimeOp extracts the optional time attribute from a
// declaration's op-args.
func (c *compiler) compileTimeOp(d *astDecl) (*TimeOpArg, error) {
	var out *TimeOpArg
	for _, oa := range d.opArgs {
		if oa.lhsStr || oa.lhs != "time" {
			return nil, &internalerr.ParseError{Offset: oa.off, Msg: fmt.Sprintf("unknown attribute %q", oa.lhs)}
		}
		if oa.op != OpEqual {
			return nil, &internalerr.ParseError{Offset: oa.off, Msg: "the time attribute takes the form time=t or time=\"...\""}
		}
		if out != nil {
			return nil, &internalerr.ParseError{Offset: oa.off, Msg: "duplicate time attribute"}
		}
		if oa.rhsStr {
			spec, err := ParseTimeSpec(oa.rhs)
			if err != nil {
				return nil, &internalerr.ParseError{Offset: oa.off, Msg: err.Error()}
			}
			out = &TimeOpArg{Spec: &spec}
			continue
		}
		v, ok := c.vars[oa.rhs]
		if !ok || !v.Time {
			return nil, &internalerr.ParseError{Offset: oa.off, Msg: fmt.Sprintf("%q is not a declared time variable", oa.rhs)}
		}
		out = &TimeOpArg{Var: v}
	}
	return out, nil
}

// resolveTerm binds a name to an in-scope variable, a skolem constant
// or a grounded subject.
func (c *compiler) resolveTerm(name string, off int) (Term, error) {
	if v, ok := c.vars[name]; ok {
		return VarT(v), nil
	}
	if sk, ok := c.skolems[name]; ok {
		if c.skolRefs != nil {
			c.skolRefs[sk] = true
		}
		return GroundedT(sk.Name), nil
	}
	return GroundedT(name), nil
}

// validateBelief checks the structural rules for sentences headed by
// the indicative conditional and splits predicates into antecedent and
// consequent sets.
func (c *compiler) validateBelief(off int) error {
	s := c.sent
	if s.particles[s.root].kind != pICond {
		return &internalerr.ParseError{Offset: off, Msg: "a rule must be headed by the |> connective"}
	}
	lhsSet := map[int]bool{}
	if err := c.rightSpine(s.root, lhsSet, off); err != nil {
		return err
	}
	for i, p := range s.particles {
		if p.kind != pAtom {
			continue
		}
		if !p.pred.ParentIsGrounded() {
			return &internalerr.ParseError{
				Offset: off,
				Msg:    fmt.Sprintf("free class position %q inside a rule", p.pred.Name()),
			}
		}
		if lhsSet[i] {
			s.lhs = append(s.lhs, p.pred)
		} else {
			s.rhs = append(s.rhs, p.pred)
			if err := consequentOpsEqual(p.pred, off); err != nil {
				return err
			}
		}
	}
	req := map[*Var][]Assert{}
	for _, v := range s.vars {
		if v.Time {
			continue
		}
		var preds []Assert
		for _, p := range s.lhs {
			if p.Contains(v) {
				preds = append(preds, p)
			}
		}
		req[v] = preds
	}
	s.varReq = req
	return nil
}

// rightSpine walks consequent links from the root: every left subtree
// belongs to the antecedent, and the spine itself may only use
// conjunction, disjunction, nested conditionals or atoms.
func (c *compiler) rightSpine(idx int, lhs map[int]bool, off int) error {
	p := &c.sent.particles[idx]
	if p.left >= 0 {
		lk := c.sent.particles[p.left].kind
		if lk == pICond {
			return &internalerr.ParseError{Offset: off, Msg: "conditional nested in a rule antecedent"}
		}
		if lk == pAtom {
			lhs[p.left] = true
		}
		if err := c.collectAntecedent(p.left, lhs, off); err != nil {
			return err
		}
	}
	if p.right >= 0 {
		switch c.sent.particles[p.right].kind {
		case pICond, pDisj, pConj, pAtom:
		default:
			return &internalerr.ParseError{Offset: off, Msg: "only &&, || and |> may appear in a consequent"}
		}
		return c.rightSpine(p.right, lhs, off)
	}
	return nil
}

// collectAntecedent marks every atom under idx as antecedent and
// rejects nested conditionals there.
func (c *compiler) collectAntecedent(idx int, lhs map[int]bool, off int) error {
	p := &c.sent.particles[idx]
	for _, child := range []int{p.left, p.right} {
		if child < 0 {
			continue
		}
		switch c.sent.particles[child].kind {
		case pICond:
			return &internalerr.ParseError{Offset: off, Msg: "conditional nested in a rule antecedent"}
		case pAtom:
			lhs[child] = true
		}
		if err := c.collectAntecedent(child, lhs, off); err != nil {
			return err
		}
	}
	return nil
}

// consequentOpsEqual enforces that derived facts carry only "=".
func consequentOpsEqual(a Assert, off int) error {
	var args []PredArg
	switch d := a.(type) {
	case *ClassDecl:
		args = d.args
	case *FuncDecl:
		if d.variant == TimeCalcFn {
			return &internalerr.ParseError{Offset: off, Msg: "time_calc in a consequent"}
		}
		args = d.args
	}
	for _, arg := range args {
		if arg.UVal != nil && arg.UVal.Op != OpEqual {
			return &internalerr.ParseError{
				Offset: off,
				Msg:    fmt.Sprintf("operator %s in a consequent; derived facts use =", arg.UVal.Op),
			}
		}
	}
	return nil
}

// checkVarUse applies the strict-variable policy: every declared
// variable must be usable, every skolem referenced.
func (c *compiler) checkVarUse(off int) error {
	if !c.opts.StrictVars {
		return nil
	}
	s := c.sent
	all := s.AllPredicates()
	for _, v := range s.vars {
		if v.Time {
			used := v.TimeDefault != nil
			for _, p := range all {
				if p.ContainsTimeVar(v) {
					used = true
					break
				}
			}
			if !used {
				return &internalerr.ParseError{Offset: off, Msg: fmt.Sprintf("time variable %q is never used", v.Name)}
			}
			continue
		}
		if s.kind == SentBelief {
			if len(s.varReq[v]) == 0 {
				return &internalerr.ParseError{
					Offset: off,
					Msg:    fmt.Sprintf("variable %q is not constrained by any antecedent predicate", v.Name),
				}
			}
			continue
		}
		used := false
		for _, p := range all {
			if p.Contains(v) || p.ParentVar() == v {
				used = true
				break
			}
		}
		if !used {
			return &internalerr.ParseError{Offset: off, Msg: fmt.Sprintf("variable %q is never used", v.Name)}
		}
	}
	for _, sk := range s.skolems {
		if !c.skolRefs[sk] {
			return &internalerr.ParseError{Offset: off, Msg: fmt.Sprintf("skolem %q is never used", sk.Name)}
		}
	}
	return nil
}

// structuralID builds the content address: one tag byte per connective
// in arena order, atoms contributing their own identity.
func (c *compiler) structuralID() string {
	var b strings.Builder
	for _, p := range c.sent.particles {
		if p.kind == pAtom {
			b.WriteString(p.pred.ID())
			b.WriteByte(';')
		} else {
			b.WriteByte(p.kind.uidTag())
		}
	}
	return b.String()
}
