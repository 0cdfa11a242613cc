// Package kb implements the knowledge store. A Representation
// aggregates entity and class fact containers, registers told
// sentences under every predicate they name, and serves the direct
// lookups and candidate searches the inference engine unifies over.
package kb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cognicore/reason/pkg/reason/internalerr"
	"github.com/cognicore/reason/pkg/reason/lang"
)

// Representation is the knowledge base: every named entity and class,
// and every sentence told to it. It implements lang.Facts, so derived
// facts produced during evaluation land back in the same store.
type Representation struct {
	log  *zap.Logger
	opts lang.ParseOpts

	mu        sync.RWMutex
	entities  map[string]*Entity
	classes   map[string]*Class
	sentences map[string]*lang.Sentence
}

// New builds an empty Representation. A nil logger disables logging.
func New(log *zap.Logger, opts lang.ParseOpts) *Representation {
	if log == nil {
		log = zap.NewNop()
	}
	return &Representation{
		log:       log,
		opts:      opts,
		entities:  map[string]*Entity{},
		classes:   map[string]*Class{},
		sentences: map[string]*lang.Sentence{},
	}
}

// Recheck is one consequent predicate of a freshly told belief. The
// caller re-derives it against the store so the new rule fires on
// facts that already satisfy its antecedents.
type Recheck struct {
	Belief *lang.Sentence
	Pred   lang.Assert
}

// Tell parses source text in assertion mode and applies every valid
// block: grounded facts upsert, beliefs and rules register. Block
// failures accumulate; valid blocks apply regardless. The returned
// rechecks cover the consequents of every belief told.
func (r *Representation) Tell(ctx context.Context, source string) ([]Recheck, error) {
	var (
		errs     *internalerr.ErrorList
		rechecks []Recheck
	)
	for _, res := range lang.ParseTell(source, r.opts) {
		if err := ctx.Err(); err != nil {
			return rechecks, err
		}
		switch {
		case res.Err != nil:
			errs = internalerr.Append(errs, res.Err)
		case len(res.Assertions) > 0:
			errs = internalerr.Append(errs, r.applyAssertions(res.Assertions))
		case res.Sentence != nil:
			switch res.Sentence.Kind() {
			case lang.SentBelief:
				rechecks = append(rechecks, r.AddBelief(res.Sentence)...)
			case lang.SentRule:
				errs = internalerr.Append(errs, r.AddRule(res.Sentence))
			}
		}
	}
	return rechecks, errs.OrNil()
}

func (r *Representation) applyAssertions(asserts []lang.Assert) error {
	for _, a := range asserts {
		switch d := a.(type) {
		case *lang.ClassDecl:
			membs, err := d.ToMemberships()
			if err != nil {
				return err
			}
			for _, m := range membs {
				r.UpMembership(m)
			}
		case *lang.FuncDecl:
			rel, err := d.ToRelation()
			if err != nil {
				return err
			}
			r.UpRelation(rel)
		}
	}
	return nil
}

// UpMembership inserts or updates a membership fact, lazily creating
// the parent class and the subject container. First-seen facts also
// register on the parent's member list.
func (r *Representation) UpMembership(m *lang.GroundedMembership) {
	parent := r.ensureClass(m.Parent(), Membership)
	var isNew bool
	if lang.IsEntityName(m.Subject()) {
		isNew = r.ensureEntity(m.Subject()).addMembership(m)
	} else {
		isNew = r.ensureClass(m.Subject(), Membership).addMembership(m)
	}
	if isNew {
		parent.addMember(m)
	}
}

// UpRelation inserts or updates a relation instance on every subject
// taking part in it. First-seen instances also register on the
// relation class's member list.
func (r *Representation) UpRelation(rel *lang.GroundedRelation) {
	owner := r.ensureClass(rel.Name(), Relationship)
	var isNew bool
	for _, subject := range rel.Subjects() {
		if lang.IsEntityName(subject) {
			isNew = r.ensureEntity(subject).addRelation(rel)
		} else {
			isNew = r.ensureClass(subject, Membership).addRelation(rel)
		}
	}
	if isNew {
		owner.addRelMember(rel)
	}
}

// AddBelief registers a conditional sentence under every predicate
// name it mentions: on the predicate's class and on every grounded
// argument subject. Re-told sentences register once, by structural
// identity. The returned rechecks name the consequents to re-derive.
func (r *Representation) AddBelief(s *lang.Sentence) []Recheck {
	if r.trackSentence(s) {
		for _, p := range s.AllPredicates() {
			if builtinPred(p) || !p.ParentIsGrounded() {
				continue
			}
			r.ensureClass(p.Name(), classKindFor(p)).addBelief(p.Name(), s)
			for _, subject := range groundedSubjects(p) {
				if lang.IsEntityName(subject) {
					r.ensureEntity(subject).addBelief(p.Name(), s)
				} else {
					r.ensureClass(subject, Membership).addBelief(p.Name(), s)
				}
			}
		}
	}
	rhs := s.RHS()
	rechecks := make([]Recheck, 0, len(rhs))
	for _, p := range rhs {
		if builtinPred(p) || !p.ParentIsGrounded() {
			continue
		}
		rechecks = append(rechecks, Recheck{Belief: s, Pred: p})
	}
	return rechecks
}

// AddRule registers a ground constraint sentence on every class it
// names and evaluates it once against current facts, logging when the
// store already violates it.
func (r *Representation) AddRule(s *lang.Sentence) error {
	if r.trackSentence(s) {
		for _, p := range s.AllPredicates() {
			if builtinPred(p) {
				continue
			}
			r.ensureClass(p.Name(), classKindFor(p)).addRule(s)
		}
	}
	res, err := s.Solve(lang.NewEvalCtx(r, nil))
	if err != nil {
		return fmt.Errorf("evaluate rule %s: %w", s, err)
	}
	if res != nil && !*res {
		r.log.Warn("rule inconsistent with current facts", zap.String("rule", s.String()))
	}
	return nil
}

// trackSentence records a sentence by structural identity, reporting
// whether it was new.
func (r *Representation) trackSentence(s *lang.Sentence) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sentences[s.ID()]; ok {
		return false
	}
	r.sentences[s.ID()] = s
	return true
}

func (r *Representation) ensureEntity(name string) *Entity {
	r.mu.RLock()
	e := r.entities[name]
	r.mu.RUnlock()
	if e != nil {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entities[name]; e != nil {
		return e
	}
	e = newEntity(name)
	r.entities[name] = e
	return e
}

// ensureClass resolves or creates a class. The kind is fixed at
// creation; an existing class keeps its kind.
func (r *Representation) ensureClass(name string, kind Kind) *Class {
	r.mu.RLock()
	c := r.classes[name]
	r.mu.RUnlock()
	if c != nil {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.classes[name]; c != nil {
		return c
	}
	c = newClass(name, kind)
	r.classes[name] = c
	return c
}

// Entity returns the container for a named entity, nil when unknown.
func (r *Representation) Entity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// Class returns the container for a named class, nil when unknown.
func (r *Representation) Class(name string) *Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.classes[name]
}

// subject resolves a grounded name to its fact container.
func (r *Representation) subject(name string) *container {
	if lang.IsEntityName(name) {
		if e := r.Entity(name); e != nil {
			return &e.container
		}
		return nil
	}
	if c := r.Class(name); c != nil {
		return &c.container
	}
	return nil
}

// CurrentMembership implements lang.Facts.
func (r *Representation) CurrentMembership(subject, parent string) *lang.GroundedMembership {
	if box := r.subject(subject); box != nil {
		return box.BelongsToClass(parent)
	}
	return nil
}

// CurrentRelation implements lang.Facts. Resolution goes through the
// first subject's container; instances are shared across subjects.
func (r *Representation) CurrentRelation(q *lang.GroundedRelation) *lang.GroundedRelation {
	subjects := q.Subjects()
	if len(subjects) == 0 {
		return nil
	}
	if box := r.subject(subjects[0]); box != nil {
		return box.currentRelation(q)
	}
	return nil
}

// AssertMembership implements lang.Facts.
func (r *Representation) AssertMembership(m *lang.GroundedMembership) error {
	r.UpMembership(m)
	return nil
}

// AssertRelation implements lang.Facts.
func (r *Representation) AssertRelation(rel *lang.GroundedRelation) error {
	r.UpRelation(rel)
	return nil
}

// ClassMembership answers a grounded membership query from the current
// fact alone: nil when no fact is stored, the operator-aware
// comparison otherwise.
func (r *Representation) ClassMembership(q *lang.GroundedMembership) (*bool, error) {
	cur := r.CurrentMembership(q.Subject(), q.Parent())
	if cur == nil {
		return nil, nil
	}
	ok, err := cur.Satisfies(q)
	if err != nil {
		return nil, err
	}
	return &ok, nil
}

// HasRelationship answers a grounded relation query from the stored
// instance alone.
func (r *Representation) HasRelationship(q *lang.GroundedRelation) (*bool, error) {
	cur := r.CurrentRelation(q)
	if cur == nil {
		return nil, nil
	}
	ok, err := cur.Satisfies(q)
	if err != nil {
		return nil, err
	}
	return &ok, nil
}

// MembershipsOf returns the subject's current membership facts passing
// keep, serving queries with a free class position. A nil keep keeps
// all of them.
func (r *Representation) MembershipsOf(subject string, keep func(*lang.GroundedMembership) bool) []*lang.GroundedMembership {
	if box := r.subject(subject); box != nil {
		return box.Memberships(keep)
	}
	return nil
}

// Memberships returns every current membership fact in the store.
func (r *Representation) Memberships() []*lang.GroundedMembership {
	var out []*lang.GroundedMembership
	for _, c := range r.allClasses() {
		out = append(out, c.Members()...)
	}
	return out
}

// Relations returns every stored relation instance, each once.
func (r *Representation) Relations() []*lang.GroundedRelation {
	var out []*lang.GroundedRelation
	for _, c := range r.allClasses() {
		out = append(out, c.RelMembers()...)
	}
	return out
}

// Sentences returns every registered belief and rule in tell order.
func (r *Representation) Sentences() []*lang.Sentence {
	r.mu.RLock()
	out := make([]*lang.Sentence, 0, len(r.sentences))
	for _, s := range r.sentences {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq() < out[j].Seq() })
	return out
}

func (r *Representation) allClasses() []*Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Class, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c)
	}
	return out
}

// builtinPred reports whether the predicate is a builtin with no class
// of its own, such as fn::time_calc.
func builtinPred(p lang.Assert) bool {
	f, ok := p.(*lang.FuncDecl)
	return ok && f.Variant() != lang.Relational
}

func classKindFor(p lang.Assert) Kind {
	if p.IsClass() {
		return Membership
	}
	return Relationship
}

// groundedSubjects lists the concrete argument subjects of a predicate,
// skipping variable positions.
func groundedSubjects(p lang.Assert) []string {
	var args []lang.PredArg
	switch d := p.(type) {
	case *lang.ClassDecl:
		args = d.Args()
	case *lang.FuncDecl:
		args = d.Args()
	}
	var out []string
	for _, a := range args {
		if !a.Term.IsVar() {
			out = append(out, a.Term.Name())
		}
	}
	return out
}
