// Package infer implements the inference engine. An ask request is
// classified into grounded checks and free-variable enumerations;
// grounded predicates the store cannot answer directly go through
// proof search, unifying the rules that could derive them with
// candidate subjects from the knowledge base and evaluating every
// viable combination concurrently.
package infer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/reason/pkg/reason/config"
	"github.com/cognicore/reason/pkg/reason/kb"
	"github.com/cognicore/reason/pkg/reason/lang"
)

// Engine answers queries against a Representation.
type Engine struct {
	kb          *kb.Representation
	log         *zap.Logger
	workers     int
	inclusiveOr bool
	opts        lang.ParseOpts
}

// New builds an engine over the store. A nil logger disables logging.
func New(rep *kb.Representation, cfg config.Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		kb:          rep,
		log:         log,
		workers:     workers,
		inclusiveOr: !cfg.XORDisjunction,
		opts:        lang.ParseOpts{StrictVars: cfg.StrictVars},
	}
}

// Ask parses query source and answers it against the store.
func (e *Engine) Ask(ctx context.Context, source string) (*Results, error) {
	parsed, err := lang.ParseQuery(source, e.opts)
	if err != nil {
		return nil, err
	}
	return e.AskParsed(ctx, parsed)
}

// AskParsed answers already-parsed query blocks. The facade calls it
// with cached parses.
func (e *Engine) AskParsed(ctx context.Context, parsed []lang.ParseResult) (*Results, error) {
	q, err := classifyResults(parsed)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, q, false)
}

// AskPredicates answers pre-compiled predicates, re-deriving them
// through proof search when ignoreCurrent is set even if the store
// already holds an answer. The facade uses it to re-derive the
// consequents of freshly told beliefs.
func (e *Engine) AskPredicates(ctx context.Context, preds []lang.Assert, ignoreCurrent bool) (*Results, error) {
	q, err := classifyAsserts(preds)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, q, ignoreCurrent)
}

func (e *Engine) run(ctx context.Context, q *query, ignoreCurrent bool) (*Results, error) {
	res := newResults()
	r := newRun(e.kb)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for subject, preds := range q.clsGrounded {
		subject := subject
		for _, pred := range preds {
			pred := pred
			g.Go(func() error {
				return e.solveMembership(gctx, r, res, subject, pred, ignoreCurrent)
			})
		}
	}
	for _, rel := range q.funcGrounded {
		rel := rel
		g.Go(func() error {
			return e.solveRelation(gctx, r, res, rel, ignoreCurrent)
		})
	}
	// Free queries enumerate the store, so whatever the rules can
	// derive for their predicates has to materialize first.
	for _, name := range q.freePreds() {
		name := name
		g.Go(func() error {
			tr := newTrial(r, res, e.log, e.workers, e.inclusiveOr, activeQuery{pred: name})
			tr.search(gctx, name)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.resolveFree(q, res)
	return res, nil
}

// solveMembership answers one grounded membership query: by direct
// store check when allowed, by proof search otherwise.
func (e *Engine) solveMembership(ctx context.Context, r *run, res *Results, subject string, pred *lang.GroundedMembership, ignoreCurrent bool) error {
	name := pred.Parent()
	if !ignoreCurrent {
		known, err := e.kb.ClassMembership(pred)
		if err != nil {
			return err
		}
		if known != nil {
			res.setDirect(name, subject, *known)
			return nil
		}
	}
	res.ensure(name, subject)
	tr := newTrial(r, res, e.log, e.workers, e.inclusiveOr, activeQuery{
		pred:     name,
		subjects: []string{subject},
		cls:      pred,
	})
	tr.search(ctx, name)
	return ctx.Err()
}

// solveRelation answers one grounded relation query, recording the
// outcome under every subject taking part in it.
func (e *Engine) solveRelation(ctx context.Context, r *run, res *Results, rel *lang.GroundedRelation, ignoreCurrent bool) error {
	name := rel.Name()
	subjects := rel.Subjects()
	if !ignoreCurrent {
		known, err := e.kb.HasRelationship(rel)
		if err != nil {
			return err
		}
		if known != nil {
			for _, subject := range subjects {
				res.setDirect(name, subject, *known)
			}
			return nil
		}
	}
	for _, subject := range subjects {
		res.ensure(name, subject)
	}
	tr := newTrial(r, res, e.log, e.workers, e.inclusiveOr, activeQuery{
		pred:     name,
		subjects: subjects,
		fn:       rel,
	})
	tr.search(ctx, name)
	return ctx.Err()
}

// resolveFree answers the enumeration queries directly against the
// store: free-subject predicates list the qualifying members, free
// class positions list the subject's memberships.
func (e *Engine) resolveFree(q *query, res *Results) {
	for _, fq := range q.clsFree {
		uv := uvalFor(fq.decl.Args(), fq.v)
		for _, m := range e.kb.ByClass([]string{fq.decl.Name()})[fq.decl.Name()] {
			if matchMembership(m, fq.decl.Name(), uv) {
				res.addMembership(m.Subject(), m)
			}
		}
	}
	for _, fq := range q.funcFree {
		e.resolveFreeRelation(fq, res)
	}
	for _, oq := range q.owners {
		facts := e.kb.MembershipsOf(oq.subject, func(m *lang.GroundedMembership) bool {
			return matchMembership(m, m.Parent(), oq.uv)
		})
		for _, m := range facts {
			res.addMembership(oq.subject, m)
		}
	}
}

// resolveFreeRelation enumerates the stored instances of the queried
// relation that match its grounded positions, collecting the subject
// standing in the variable position.
func (e *Engine) resolveFreeRelation(fq freeFuncQuery, res *Results) {
	c := e.kb.Class(fq.decl.Name())
	if c == nil {
		return
	}
	args := fq.decl.Args()
	for _, rel := range c.RelMembers() {
		if rel.Arity() != len(args) {
			continue
		}
		relArgs := rel.Args()
		match := true
		subject := ""
		for i, a := range args {
			if v := a.Term.Var(); v != nil && !v.Time {
				if v == fq.v {
					subject = relArgs[i].Name
				}
				if !matchRelVal(relArgs[i], a.UVal) {
					match = false
					break
				}
				continue
			}
			if relArgs[i].Name != a.Term.Name() || !matchRelVal(relArgs[i], a.UVal) {
				match = false
				break
			}
		}
		if match && subject != "" {
			res.addRelation(subject, rel)
		}
	}
}

// uvalFor returns the truth condition attached to the variable's own
// argument position.
func uvalFor(args []lang.PredArg, v *lang.Var) *lang.UVal {
	for _, a := range args {
		if a.Term.Var() == v {
			return a.UVal
		}
	}
	return nil
}

// matchMembership applies a queried truth condition to a stored fact.
// Facts that cannot satisfy it, valueless ones included, are excluded.
func matchMembership(m *lang.GroundedMembership, parent string, uv *lang.UVal) bool {
	if uv == nil {
		return true
	}
	q := lang.NewMembership(m.Subject(), parent, uv.Val, uv.Op, time.Time{})
	ok, err := m.Satisfies(q)
	return err == nil && ok
}

func matchRelVal(stored lang.RelArg, uv *lang.UVal) bool {
	if uv == nil {
		return true
	}
	if !stored.HasVal {
		return false
	}
	switch uv.Op {
	case lang.OpEqual:
		return stored.Value == uv.Val
	case lang.OpLess:
		return stored.Value < uv.Val
	case lang.OpMore:
		return stored.Value > uv.Val
	}
	return false
}
