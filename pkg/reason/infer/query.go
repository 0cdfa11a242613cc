package infer

import (
	"fmt"
	"time"

	"github.com/cognicore/reason/pkg/reason/internalerr"
	"github.com/cognicore/reason/pkg/reason/lang"
)

// query is an ask request bucketed by resolution strategy. Grounded
// predicates answer by direct check or proof search; predicates with a
// free subject or a free class position enumerate the store directly.
type query struct {
	clsGrounded  map[string][]*lang.GroundedMembership
	funcGrounded []*lang.GroundedRelation
	clsFree      []freeClsQuery
	funcFree     []freeFuncQuery
	owners       []ownerQuery
}

// freeClsQuery asks which members of a class satisfy the condition on
// the variable argument, e.g. `((let x) (professor[x,u>0.5]))`.
type freeClsQuery struct {
	v    *lang.Var
	decl *lang.ClassDecl
}

// freeFuncQuery asks which subjects take the variable position of a
// relation, e.g. `((let x) (fn::sells[x;$West;$Nono]))`.
type freeFuncQuery struct {
	v    *lang.Var
	decl *lang.FuncDecl
}

// ownerQuery asks which classes a grounded subject belongs to, e.g.
// `((let x) (x[$Lucy,u>0.5]))`.
type ownerQuery struct {
	subject string
	uv      *lang.UVal
}

func newQuery() *query {
	return &query{clsGrounded: map[string][]*lang.GroundedMembership{}}
}

// freePreds returns the distinct predicate names the free queries
// enumerate, in first-seen order.
func (q *query) freePreds() []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, fq := range q.clsFree {
		add(fq.decl.Name())
	}
	for _, fq := range q.funcFree {
		add(fq.decl.Name())
	}
	return out
}

// classifyResults buckets the blocks of a parsed ask request.
func classifyResults(results []lang.ParseResult) (*query, error) {
	q := newQuery()
	for _, res := range results {
		for _, a := range res.Assertions {
			if err := q.add(a); err != nil {
				return nil, err
			}
		}
		if res.Sentence != nil {
			if err := q.addSentence(res.Sentence); err != nil {
				return nil, err
			}
		}
	}
	return q, nil
}

// classifyAsserts buckets bare predicates, as when consequents of a
// fresh belief are re-derived.
func classifyAsserts(asserts []lang.Assert) (*query, error) {
	q := newQuery()
	for _, a := range asserts {
		if err := q.add(a); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// addSentence decomposes a query sentence into its predicates, each
// asked on its own. Only query sentences qualify: a belief or rule at
// ask time is a statement, not a question.
func (q *query) addSentence(s *lang.Sentence) error {
	if s.Kind() != lang.SentQuery {
		return fmt.Errorf("%w: a %s cannot be asked", internalerr.ErrQuery, s.Kind())
	}
	for _, p := range s.AllPredicates() {
		if err := q.add(p); err != nil {
			return err
		}
	}
	return nil
}

func (q *query) add(a lang.Assert) error {
	switch d := a.(type) {
	case *lang.ClassDecl:
		return q.addClassDecl(d)
	case *lang.FuncDecl:
		return q.addFuncDecl(d)
	default:
		return fmt.Errorf("%w: unsupported predicate", internalerr.ErrQuery)
	}
}

func (q *query) addClassDecl(d *lang.ClassDecl) error {
	if !d.ParentIsGrounded() {
		for _, a := range d.Args() {
			if a.Term.IsVar() {
				return fmt.Errorf("%w: both class and subject free in %s", internalerr.ErrQuery, d)
			}
			q.owners = append(q.owners, ownerQuery{subject: a.Term.Name(), uv: a.UVal})
		}
		return nil
	}
	for _, a := range d.Args() {
		if v := a.Term.Var(); v != nil {
			if !v.Time {
				q.clsFree = append(q.clsFree, freeClsQuery{v: v, decl: d})
			}
			continue
		}
		q.clsGrounded[a.Term.Name()] = append(q.clsGrounded[a.Term.Name()], queryMembership(a, d.Name()))
	}
	return nil
}

func (q *query) addFuncDecl(d *lang.FuncDecl) error {
	if d.Variant() != lang.Relational {
		return fmt.Errorf("%w: %s is not a queryable relation", internalerr.ErrQuery, d.Name())
	}
	if !d.ParentIsGrounded() {
		return fmt.Errorf("%w: free relation position in %s", internalerr.ErrQuery, d)
	}
	free := false
	for _, a := range d.Args() {
		if v := a.Term.Var(); v != nil && !v.Time {
			free = true
			q.funcFree = append(q.funcFree, freeFuncQuery{v: v, decl: d})
		}
	}
	if free {
		return nil
	}
	rel, _, err := d.QueryRelation(nil)
	if err != nil {
		return err
	}
	q.funcGrounded = append(q.funcGrounded, rel)
	return nil
}

// queryMembership builds the query-side fact for one grounded argument.
func queryMembership(a lang.PredArg, parent string) *lang.GroundedMembership {
	if a.UVal == nil {
		return lang.NewBareMembership(a.Term.Name(), parent, time.Time{})
	}
	return lang.NewMembership(a.Term.Name(), parent, a.UVal.Val, a.UVal.Op, time.Time{})
}
