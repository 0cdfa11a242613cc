// Package lang implements the textual logic language: tokenizer,
// recursive-descent parser and the sentence compiler that turns parse
// trees into evaluable connective trees over fuzzy-valued predicates.
//
// A source text is a sequence of parenthesized blocks. Each block is
// either a grounded assertion, e.g.
//
//	(professor[$Lucy,u=1])
//	(fn::sells[$M1,u=1;$West;$Nono])
//
// or a logical sentence over declared variables, e.g.
//
//	((let x) (professor[x,u=1] |> person[x,u=1]))
package lang

import (
	"fmt"
	"strconv"

	"github.com/cognicore/reason/pkg/reason/internalerr"
)

// ParseOpts configures parsing and sentence compilation.
type ParseOpts struct {
	// StrictVars rejects declared variables that no antecedent
	// predicate constrains, and skolems nothing references. When off
	// they compile but can never be bound.
	StrictVars bool
}

// ParseResult is the outcome of one top-level block. Exactly one of
// Assertions, Sentence or Err is set.
type ParseResult struct {
	Assertions []Assert
	Sentence   *Sentence
	Err        error
	Offset     int
}

// ParseTell parses source text in assertion mode: grounded facts,
// beliefs and ground rules. Malformed blocks yield per-block errors so
// callers can apply the valid remainder.
func ParseTell(src string, opts ParseOpts) []ParseResult {
	out, err := parseBlocks(src, true, opts)
	if err != nil {
		return []ParseResult{{Err: err}}
	}
	return out
}

// ParseQuery parses source text in query mode. Queries are all or
// nothing: any malformed block fails the whole parse.
func ParseQuery(src string, opts ParseOpts) ([]ParseResult, error) {
	out, err := parseBlocks(src, false, opts)
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		if r.Err != nil {
			return nil, r.Err
		}
	}
	return out, nil
}

func parseBlocks(src string, tell bool, opts ParseOpts) ([]ParseResult, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, tell: tell, opts: opts}
	var out []ParseResult
	for !p.at(tokEOF) {
		start := p.i
		off := p.peek().off
		scope, err := p.parseScope()
		if err != nil {
			out = append(out, ParseResult{Err: err, Offset: off})
			p.recover(start)
			continue
		}
		res := compileBlock(scope, tell, opts)
		res.Offset = off
		out = append(out, res)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty source", internalerr.ErrInvalidInput)
	}
	return out, nil
}

type parser struct {
	toks []token
	i    int
	tell bool
	opts ParseOpts
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) at(k tokKind) bool { return p.toks[p.i].kind == k }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) expect(k tokKind) (token, error) {
	t := p.peek()
	if t.kind != k {
		return t, &internalerr.ParseError{
			Offset: t.off,
			Msg:    fmt.Sprintf("expected %s, found %s", k, describe(t)),
		}
	}
	return p.next(), nil
}

func describe(t token) string {
	switch t.kind {
	case tokIdent, tokNumber:
		return fmt.Sprintf("%q", t.text)
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return t.kind.String()
	}
}

// recover skips past the block that failed to parse: from its opening
// paren to the balancing close, or one token when there is none.
func (p *parser) recover(start int) {
	p.i = start
	if !p.at(tokLParen) {
		p.next()
		return
	}
	depth := 0
	for !p.at(tokEOF) {
		switch p.next().kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

// parseScope parses one parenthesized scope: leading variable and
// skolem groups followed by the scope's logical tree.
func (p *parser) parseScope() (*astScope, error) {
	open, err := p.expect(tokLParen)
	if err != nil {
		return nil, err
	}
	s := &astScope{off: open.off}
	for p.varGroupAhead() {
		decls, skolem, err := p.parseVarGroup()
		if err != nil {
			return nil, err
		}
		if skolem {
			s.skolems = append(s.skolems, decls...)
		} else {
			s.vars = append(s.vars, decls...)
		}
	}
	node, err := p.parseSentence()
	if err != nil {
		return nil, err
	}
	s.node = node
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *parser) varGroupAhead() bool {
	if !p.at(tokLParen) || p.i+1 >= len(p.toks) {
		return false
	}
	n := p.toks[p.i+1]
	return n.kind == tokIdent && (n.text == "let" || n.text == "exists")
}

// parseVarGroup parses "(let a, b)" or "(exists c)". Commas between
// names are optional.
func (p *parser) parseVarGroup() ([]*astVarDecl, bool, error) {
	p.next()
	kw := p.next()
	skolem := kw.text == "exists"
	var decls []*astVarDecl
	for p.at(tokIdent) {
		nameTok := p.next()
		if IsReserved(nameTok.text) {
			return nil, false, &internalerr.ParseError{
				Offset: nameTok.off,
				Msg:    fmt.Sprintf("reserved identifier %q used as variable name", nameTok.text),
			}
		}
		d := &astVarDecl{name: nameTok.text, off: nameTok.off}
		if p.at(tokColon) {
			p.next()
			attr, err := p.expect(tokIdent)
			if err != nil {
				return nil, false, err
			}
			if attr.text != "time" {
				return nil, false, &internalerr.ParseError{
					Offset: attr.off,
					Msg:    fmt.Sprintf("unknown variable attribute %q", attr.text),
				}
			}
			d.timeAttr = true
			if p.at(tokEqual) {
				p.next()
				lit, err := p.expect(tokString)
				if err != nil {
					return nil, false, err
				}
				d.payload = lit.text
				d.hasPayload = true
			}
		}
		decls = append(decls, d)
		if p.at(tokComma) {
			p.next()
		}
	}
	if len(decls) == 0 {
		return nil, false, &internalerr.ParseError{Offset: kw.off, Msg: "empty variable declaration"}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, false, err
	}
	return decls, skolem, nil
}

// parseSentence parses a scope's logical tree. "&&" binds tighter than
// "||"; the conditional connectives are binary and do not chain.
func (p *parser) parseSentence() (*astNode, error) {
	lhs, err := p.parseOrChain()
	if err != nil {
		return nil, err
	}
	k := p.peek().kind
	if k != tokICond && k != tokImplies && k != tokEquiv {
		return lhs, nil
	}
	opTok := p.next()
	rhs, err := p.parseOrChain()
	if err != nil {
		return nil, err
	}
	if k := p.peek().kind; k == tokICond || k == tokImplies || k == tokEquiv {
		return nil, &internalerr.ParseError{
			Offset: p.peek().off,
			Msg:    "conditional connectives do not chain; parenthesize the nested sentence",
		}
	}
	return &astNode{op: binaryOp(opTok.kind), left: lhs, right: rhs, off: opTok.off}, nil
}

func (p *parser) parseOrChain() (*astNode, error) {
	operands := []*astNode{}
	offs := []int{}
	first, err := p.parseAndChain()
	if err != nil {
		return nil, err
	}
	operands = append(operands, first)
	for p.at(tokOr) {
		off := p.next().off
		n, err := p.parseAndChain()
		if err != nil {
			return nil, err
		}
		operands = append(operands, n)
		offs = append(offs, off)
	}
	return foldRight(LogicOr, operands, offs), nil
}

func (p *parser) parseAndChain() (*astNode, error) {
	operands := []*astNode{}
	offs := []int{}
	first, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	operands = append(operands, first)
	for p.at(tokAnd) {
		off := p.next().off
		n, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		operands = append(operands, n)
		offs = append(offs, off)
	}
	return foldRight(LogicAnd, operands, offs), nil
}

// foldRight folds an operand chain into nested binary nodes so that
// evaluation order matches source order.
func foldRight(op LogicOp, operands []*astNode, offs []int) *astNode {
	res := operands[len(operands)-1]
	for i := len(operands) - 2; i >= 0; i-- {
		res = &astNode{op: op, left: operands[i], right: res, off: offs[i]}
	}
	return res
}

func (p *parser) parsePrimary() (*astNode, error) {
	if p.at(tokLParen) {
		s, err := p.parseScope()
		if err != nil {
			return nil, err
		}
		return &astNode{scope: s, off: s.off}, nil
	}
	d, err := p.parseDecl()
	if err != nil {
		return nil, err
	}
	return &astNode{decl: d, off: d.off}, nil
}

// parseDecl parses "name[args]", "name(op_args)[args]",
// "fn::name[args]" or the argless "fn::time_calc(op_args)" builtin.
func (p *parser) parseDecl() (*astDecl, error) {
	nameTok, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	d := &astDecl{off: nameTok.off, name: nameTok.text}
	if nameTok.text == "fn" && p.at(tokDoubleColon) {
		p.next()
		fnName, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		d.fn = true
		d.name = fnName.text
	}
	timeCalc := d.fn && d.name == "time_calc"
	if IsReserved(d.name) && !timeCalc {
		return nil, &internalerr.ParseError{
			Offset: nameTok.off,
			Msg:    fmt.Sprintf("reserved identifier %q used as predicate name", d.name),
		}
	}
	if p.at(tokLParen) {
		opArgs, err := p.parseOpArgs()
		if err != nil {
			return nil, err
		}
		d.opArgs = opArgs
	}
	if p.at(tokLBracket) {
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		d.args = args
	}
	if timeCalc {
		if len(d.args) > 0 || len(d.opArgs) == 0 {
			return nil, &internalerr.ParseError{
				Offset: d.off,
				Msg:    "time_calc takes a single comparison between time variables",
			}
		}
	} else if len(d.args) == 0 {
		return nil, &internalerr.ParseError{
			Offset: d.off,
			Msg:    fmt.Sprintf("predicate %q declares no arguments", d.name),
		}
	}
	return d, nil
}

func (p *parser) parseArgs() ([]astArg, error) {
	if _, err := p.expect(tokLBracket); err != nil {
		return nil, err
	}
	var args []astArg
	for {
		t, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		if IsReserved(t.text) {
			return nil, &internalerr.ParseError{
				Offset: t.off,
				Msg:    fmt.Sprintf("reserved identifier %q used as subject", t.text),
			}
		}
		a := astArg{name: t.text, off: t.off}
		if p.at(tokComma) {
			p.next()
			uv, err := p.parseUVal()
			if err != nil {
				return nil, err
			}
			a.uval = uv
		}
		args = append(args, a)
		if p.at(tokSemicolon) {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tokRBracket); err != nil {
		return nil, err
	}
	return args, nil
}

// parseUVal parses a truth condition: "u" comp_op number in [0,1].
func (p *parser) parseUVal() (*UVal, error) {
	u, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	if u.text != "u" {
		return nil, &internalerr.ParseError{Offset: u.off, Msg: fmt.Sprintf("expected truth condition u, found %q", u.text)}
	}
	opTok := p.next()
	op := comparisonOp(opTok.kind)
	if op == OpNone {
		return nil, &internalerr.ParseError{Offset: opTok.off, Msg: "expected comparison operator after u"}
	}
	num, err := p.expect(tokNumber)
	if err != nil {
		return nil, err
	}
	v, perr := strconv.ParseFloat(num.text, 64)
	if perr != nil {
		return nil, &internalerr.ParseError{Offset: num.off, Msg: fmt.Sprintf("malformed number %q", num.text)}
	}
	if v < 0 || v > 1 {
		return nil, &internalerr.ParseError{Offset: num.off, Msg: fmt.Sprintf("truth value %s outside [0,1]", num.text)}
	}
	return &UVal{Op: op, Val: v}, nil
}

func (p *parser) parseOpArgs() ([]astOpArg, error) {
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	var out []astOpArg
	for {
		oa, err := p.parseOpArg()
		if err != nil {
			return nil, err
		}
		out = append(out, oa)
		if p.at(tokComma) {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) parseOpArg() (astOpArg, error) {
	var oa astOpArg
	switch p.peek().kind {
	case tokString:
		t := p.next()
		oa.lhs, oa.lhsStr, oa.off = t.text, true, t.off
	case tokIdent:
		t := p.next()
		oa.lhs, oa.off = t.text, t.off
	default:
		return oa, &internalerr.ParseError{Offset: p.peek().off, Msg: fmt.Sprintf("expected attribute, found %s", describe(p.peek()))}
	}
	op := comparisonOp(p.peek().kind)
	if op == OpNone {
		return oa, nil
	}
	p.next()
	oa.op = op
	switch p.peek().kind {
	case tokString:
		t := p.next()
		oa.rhs, oa.rhsStr = t.text, true
	case tokIdent:
		t := p.next()
		oa.rhs = t.text
	default:
		return oa, &internalerr.ParseError{Offset: p.peek().off, Msg: fmt.Sprintf("expected attribute value, found %s", describe(p.peek()))}
	}
	return oa, nil
}

func binaryOp(k tokKind) LogicOp {
	switch k {
	case tokICond:
		return LogicICond
	case tokImplies:
		return LogicImplies
	case tokEquiv:
		return LogicEquiv
	default:
		return logicNone
	}
}

func comparisonOp(k tokKind) CompOp {
	switch k {
	case tokEqual:
		return OpEqual
	case tokLess:
		return OpLess
	case tokMore:
		return OpMore
	default:
		return OpNone
	}
}
