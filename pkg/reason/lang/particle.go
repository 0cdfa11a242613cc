package lang

import (
	"fmt"

	"github.com/cognicore/reason/pkg/reason/internalerr"
)

type particleKind uint8

const (
	pAtom particleKind = iota
	pConj
	pDisj
	pImpl
	pEquiv
	pICond
)

// particle is one node of a compiled sentence's connective tree. The
// tree lives in an arena indexed by child position; -1 means no child.
type particle struct {
	kind  particleKind
	left  int
	right int
	pred  Assert
}

// uidTag returns the structural-identity tag of a connective.
func (k particleKind) uidTag() byte {
	switch k {
	case pConj:
		return 0
	case pDisj:
		return 1
	case pEquiv:
		return 2
	case pImpl:
		return 3
	default:
		return 4
	}
}

// solveAt evaluates the particle at index i with three-valued logic.
// Nil means the truth cannot be decided with the facts at hand.
func (s *Sentence) solveAt(i int, ev *EvalCtx) (*bool, error) {
	p := &s.particles[i]
	switch p.kind {
	case pAtom:
		return p.pred.Truth(ev)
	case pConj:
		l, err := s.solveAt(p.left, ev)
		if err != nil {
			return nil, err
		}
		if l != nil && !*l {
			return boolPtr(false), nil
		}
		r, err := s.solveAt(p.right, ev)
		if err != nil {
			return nil, err
		}
		if r != nil && !*r {
			return boolPtr(false), nil
		}
		if l == nil || r == nil {
			return nil, nil
		}
		return boolPtr(true), nil
	case pDisj:
		l, r, err := s.solvePair(p, ev)
		if err != nil || l == nil || r == nil {
			return nil, err
		}
		if ev.InclusiveOr {
			return boolPtr(*l || *r), nil
		}
		return boolPtr(*l != *r), nil
	case pImpl:
		l, r, err := s.solvePair(p, ev)
		if err != nil || l == nil || r == nil {
			return nil, err
		}
		return boolPtr(!(*l && !*r)), nil
	case pEquiv:
		l, r, err := s.solvePair(p, ev)
		if err != nil || l == nil || r == nil {
			return nil, err
		}
		return boolPtr(*l == *r), nil
	case pICond:
		// truth of a rule is the truth of its antecedent; the
		// consequent is materialized by substitution instead.
		return s.solveAt(p.left, ev)
	default:
		return nil, fmt.Errorf("%w: unknown connective", internalerr.ErrContract)
	}
}

func (s *Sentence) solvePair(p *particle, ev *EvalCtx) (*bool, *bool, error) {
	l, err := s.solveAt(p.left, ev)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.solveAt(p.right, ev)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

// substituteAt materializes the consequent at index i into the store.
// The truth flag selects the branch a disjunction grounds.
func (s *Sentence) substituteAt(i int, ev *EvalCtx, truth bool) error {
	p := &s.particles[i]
	switch p.kind {
	case pAtom:
		return p.pred.Ground(ev)
	case pICond:
		return s.substituteAt(p.right, ev, truth)
	case pConj:
		if err := s.substituteAt(p.right, ev, truth); err != nil {
			return err
		}
		return s.substituteAt(p.left, ev, truth)
	case pDisj:
		if truth {
			return s.substituteAt(p.right, ev, truth)
		}
		return s.substituteAt(p.left, ev, truth)
	default:
		return fmt.Errorf("%w: connective %v in consequent", internalerr.ErrContract, p.kind)
	}
}
