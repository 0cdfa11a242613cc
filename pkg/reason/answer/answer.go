// Package answer wraps the outcome of one ask behind a uniform
// accessor surface: the inference results, or the error that kept the
// ask from running. Every answer carries a ULID so callers can
// correlate it with the engine's log lines.
package answer

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/reason/pkg/reason/infer"
	"github.com/cognicore/reason/pkg/reason/internalerr"
	"github.com/cognicore/reason/pkg/reason/lang"
)

// ids hands out monotonic ULIDs, so answers from one process sort in
// ask order.
var ids = struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}{entropy: ulid.Monotonic(rand.Reader, 0)}

func newID() string {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	return ulid.MustNew(ulid.Now(), ids.entropy).String()
}

// Answer is the outcome of one ask. Exactly one of the results or the
// error is set; accessors on an error answer report nothing rather
// than failing.
type Answer struct {
	id  string
	res *infer.Results
	err error
}

// New wraps inference results.
func New(res *infer.Results) *Answer {
	return &Answer{id: newID(), res: res}
}

// ParseErr is an answer for an ask whose source failed to parse.
func ParseErr(err error) *Answer {
	return &Answer{id: newID(), err: err}
}

// QueryErr is an answer for parsed source that cannot run as a query.
// The error always carries internalerr.ErrQuery.
func QueryErr(err error) *Answer {
	if !errors.Is(err, internalerr.ErrQuery) {
		err = fmt.Errorf("%w: %v", internalerr.ErrQuery, err)
	}
	return &Answer{id: newID(), err: err}
}

// ID returns the answer's ULID.
func (a *Answer) ID() string { return a.id }

// Err returns the error carried by a parse or query error answer.
func (a *Answer) Err() error { return a.err }

// Truth collapses the grounded results to one three-valued outcome:
// false when any cell is false, nil when any cell is undetermined or
// no grounded query ran, true otherwise.
func (a *Answer) Truth() *bool {
	if a.res == nil {
		return nil
	}
	grounded := a.res.Grounded()
	if len(grounded) == 0 {
		return nil
	}
	undetermined := false
	for _, cells := range grounded {
		for _, p := range cells {
			if p == nil {
				undetermined = true
				continue
			}
			if !p.Value {
				f := false
				return &f
			}
		}
	}
	if undetermined {
		return nil
	}
	tr := true
	return &tr
}

// Result returns the outcome for one grounded (predicate, subject)
// cell: nil when the pair was not queried or stayed undetermined.
func (a *Answer) Result(pred, subject string) *bool {
	if a.res == nil {
		return nil
	}
	p := a.res.Grounded()[pred][subject]
	if p == nil {
		return nil
	}
	v := p.Value
	return &v
}

// Grounded returns the full per-predicate, per-subject result map.
func (a *Answer) Grounded() map[string]map[string]*infer.Proof {
	if a.res == nil {
		return nil
	}
	return a.res.Grounded()
}

// Memberships returns, keyed by subject, the membership facts that
// satisfied the ask's free-variable queries.
func (a *Answer) Memberships() map[string][]*lang.GroundedMembership {
	if a.res == nil {
		return nil
	}
	return a.res.Memberships()
}

// Relations returns, keyed by subject, the relation instances that
// satisfied the ask's free-variable relation queries.
func (a *Answer) Relations() map[string][]*lang.GroundedRelation {
	if a.res == nil {
		return nil
	}
	return a.res.Relations()
}
