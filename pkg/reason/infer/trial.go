package infer

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/reason/pkg/reason/kb"
	"github.com/cognicore/reason/pkg/reason/lang"
)

// proofNode is one rule in the substitution tree: the sentence to
// prove with and the antecedent predicates that could feed it.
type proofNode struct {
	proof       *lang.Sentence
	antecedents []string
}

// run is the rule registry shared by every trial of one ask: the
// sentences pulled into the substitution tree so far, indexed by the
// predicates they can derive. Binding dedup is deliberately not here:
// each trial tries every combination itself, so one query's progress
// never hides a result from another query of the same ask.
type run struct {
	kb *kb.Representation

	mu    sync.Mutex
	nodes map[string][]*proofNode
	known map[string]struct{}
}

func newRun(rep *kb.Representation) *run {
	return &run{
		kb:    rep,
		nodes: map[string][]*proofNode{},
		known: map[string]struct{}{},
	}
}

// getRules pulls the sentences indexed under the given predicates into
// the substitution tree, registering each new one under every
// consequent predicate it can derive.
func (r *run) getRules(preds []string) {
	for _, pred := range preds {
		rules := r.kb.RulesFor(pred)
		r.mu.Lock()
		for _, sent := range rules {
			if _, ok := r.known[sent.ID()]; ok {
				continue
			}
			r.known[sent.ID()] = struct{}{}
			node := &proofNode{proof: sent, antecedents: predNames(sent.LHS())}
			for _, name := range predNames(sent.RHS()) {
				r.nodes[name] = append(r.nodes[name], node)
			}
		}
		r.mu.Unlock()
	}
}

// nodesFor returns the rules that can derive the predicate, newest
// first: the most recently told rule takes precedence.
func (r *run) nodesFor(pred string) []*proofNode {
	r.mu.Lock()
	nodes := append([]*proofNode(nil), r.nodes[pred]...)
	r.mu.Unlock()
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i].proof, nodes[j].proof
		if !a.Created().Equal(b.Created()) {
			return a.Created().After(b.Created())
		}
		return a.Seq() > b.Seq()
	})
	return nodes
}

func predNames(preds []lang.Assert) []string {
	out := make([]string, 0, len(preds))
	for _, p := range preds {
		if builtinPred(p) || !p.ParentIsGrounded() {
			continue
		}
		out = append(out, p.Name())
	}
	return out
}

func builtinPred(p lang.Assert) bool {
	f, ok := p.(*lang.FuncDecl)
	return ok && f.Variant() != lang.Relational
}

// activeQuery is the grounded predicate one trial is trying to prove,
// with the result cells it answers into.
type activeQuery struct {
	pred     string
	subjects []string
	cls      *lang.GroundedMembership
	fn       *lang.GroundedRelation
}

// trial is one proof search over the substitution tree. It walks the
// rules deriving the queried predicate, unifies their variables with
// store candidates, and evaluates every untried combination until a
// proof comparable to the query lands a result.
type trial struct {
	run         *run
	results     *Results
	log         *zap.Logger
	workers     int
	inclusiveOr bool
	actv        activeQuery

	mu       sync.Mutex
	tried    map[string]map[string]struct{}
	updated  bool
	feedback bool
	valid    bool
}

func newTrial(r *run, res *Results, log *zap.Logger, workers int, inclusiveOr bool, actv activeQuery) *trial {
	return &trial{
		run:         r,
		results:     res,
		log:         log,
		workers:     workers,
		inclusiveOr: inclusiveOr,
		actv:        actv,
		tried:       map[string]map[string]struct{}{},
		feedback:    true,
	}
}

func (tr *trial) alreadyTried(sentID, key string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	_, ok := tr.tried[sentID][key]
	return ok
}

func (tr *trial) markTried(sentID, key string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	keys := tr.tried[sentID]
	if keys == nil {
		keys = map[string]struct{}{}
		tr.tried[sentID] = keys
	}
	keys[key] = struct{}{}
}

// search drives unify rounds: while a round derived something new and
// no comparable result has settled the query, derived facts may have
// unlocked further rules, so go again.
func (tr *trial) search(ctx context.Context, pred string) {
	tr.run.getRules([]string{pred})
	for {
		tr.unify(ctx, pred)
		tr.mu.Lock()
		again := tr.updated && tr.feedback
		tr.updated = false
		tr.mu.Unlock()
		if !again || ctx.Err() != nil {
			return
		}
	}
}

// unify tries every rule deriving parent. Rules whose variables cannot
// be met, or that left the query unsettled, push their antecedents
// onto a worklist: deriving those may make the rule applicable on the
// next pass.
func (tr *trial) unify(ctx context.Context, parent string) {
	var chk []string
	done := map[string]struct{}{}
	for {
		tr.setValid(false)
		for _, node := range tr.run.nodesFor(parent) {
			if ctx.Err() != nil {
				return
			}
			assignments := tr.run.kb.MeetSentReq(node.proof.VarReq())
			if assignments == nil {
				chk = enqueue(chk, done, node.antecedents)
				continue
			}
			tr.dispatch(ctx, node, assignments)
			if tr.feedbackOn() {
				chk = enqueue(chk, done, node.antecedents)
			}
		}
		if !tr.feedbackOn() || len(chk) == 0 {
			return
		}
		done[parent] = struct{}{}
		tr.run.getRules(chk)
		parent, chk = chk[0], chk[1:]
	}
}

func enqueue(chk []string, done map[string]struct{}, names []string) []string {
	for _, name := range names {
		if _, ok := done[name]; ok {
			continue
		}
		if slices.Contains(chk, name) {
			continue
		}
		chk = append(chk, name)
	}
	return chk
}

// dispatch evaluates the rule under every untried candidate binding,
// bounded by the worker cap. Once a binding settles the query the
// remaining combinations are abandoned.
func (tr *trial) dispatch(ctx context.Context, node *proofNode, assignments map[*lang.Var][]*lang.VarAssignment) {
	prod := newArgsProduct(assignments)
	var g errgroup.Group
	g.SetLimit(tr.workers)
	for {
		if ctx.Err() != nil || tr.hasValid() {
			break
		}
		binding, ok := prod.next()
		if !ok {
			break
		}
		key := bindingKey(binding)
		if tr.alreadyTried(node.proof.ID(), key) {
			continue
		}
		g.Go(func() error {
			tr.solveBinding(node, binding, key)
			return nil
		})
	}
	g.Wait()
}

// solveBinding evaluates one rule under one binding. A defined result
// marks the binding tried and feeds the query's result cells; a panic
// in evaluation is contained to this task, leaving the query
// undetermined.
func (tr *trial) solveBinding(node *proofNode, binding map[*lang.Var]*lang.VarAssignment, key string) {
	defer func() {
		if rec := recover(); rec != nil {
			tr.log.Error("proof evaluation panicked",
				zap.Any("panic", rec),
				zap.String("rule", node.proof.String()))
		}
	}()
	ev := lang.NewEvalCtx(tr.run.kb, binding)
	ev.InclusiveOr = tr.inclusiveOr
	res, err := node.proof.Solve(ev)
	if err != nil {
		tr.log.Debug("proof evaluation failed",
			zap.String("rule", node.proof.String()),
			zap.Error(err))
		return
	}
	if res == nil {
		return
	}
	tr.markTried(node.proof.ID(), key)
	tr.setUpdated()
	tr.addResult(*res, ev.Grounded)
}

// addResult feeds a defined proof outcome into the query's result
// cells. A false proof records a dateless false. A true proof checks
// every fact the substitution wrote: the ones comparable to the query
// answer it, dated by their derivation instant, and stop the search.
func (tr *trial) addResult(result bool, grounded []lang.GroundedRecord) {
	if !result {
		for _, subject := range tr.actv.subjects {
			tr.results.supersede(tr.actv.pred, subject, false, time.Time{}, false)
		}
		return
	}
	for _, rec := range grounded {
		switch {
		case tr.actv.cls != nil && rec.Membership != nil:
			if !rec.Membership.Comparable(tr.actv.cls) {
				continue
			}
			val, err := rec.Membership.Satisfies(tr.actv.cls)
			if err != nil {
				tr.log.Debug("derived fact incomparable to query", zap.Error(err))
				continue
			}
			tr.settle(tr.results.supersede(tr.actv.pred, tr.actv.subjects[0], val, rec.At, !rec.At.IsZero()))
		case tr.actv.fn != nil && rec.Relation != nil:
			if !rec.Relation.Comparable(tr.actv.fn) {
				continue
			}
			val, err := rec.Relation.Satisfies(tr.actv.fn)
			if err != nil {
				tr.log.Debug("derived fact incomparable to query", zap.Error(err))
				continue
			}
			stored := false
			for _, subject := range tr.actv.subjects {
				if tr.results.supersede(tr.actv.pred, subject, val, rec.At, !rec.At.IsZero()) {
					stored = true
				}
			}
			tr.settle(stored)
		}
	}
}

func (tr *trial) setUpdated() {
	tr.mu.Lock()
	tr.updated = true
	tr.mu.Unlock()
}

func (tr *trial) feedbackOn() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.feedback
}

// settle records that a comparable defined result exists: drop the
// feedback flag so no further bindings dispatch, and mark the cell
// valid when the write actually landed. One lock, so late tasks see
// the pair together.
func (tr *trial) settle(stored bool) {
	tr.mu.Lock()
	if stored {
		tr.valid = true
	}
	tr.feedback = false
	tr.mu.Unlock()
}

func (tr *trial) hasValid() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.valid
}

func (tr *trial) setValid(v bool) {
	tr.mu.Lock()
	tr.valid = v
	tr.mu.Unlock()
}
