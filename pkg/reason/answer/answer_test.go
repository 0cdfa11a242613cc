package answer

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/cognicore/reason/pkg/reason/config"
	"github.com/cognicore/reason/pkg/reason/infer"
	"github.com/cognicore/reason/pkg/reason/internalerr"
	"github.com/cognicore/reason/pkg/reason/kb"
	"github.com/cognicore/reason/pkg/reason/lang"
)

func askResults(t *testing.T, facts, query string) *infer.Results {
	t.Helper()
	r := kb.New(zap.NewNop(), lang.ParseOpts{StrictVars: true})
	if facts != "" {
		if _, err := r.Tell(context.Background(), facts); err != nil {
			t.Fatalf("tell: %v", err)
		}
	}
	res, err := infer.New(r, config.Default(), zap.NewNop()).Ask(context.Background(), query)
	if err != nil {
		t.Fatalf("ask %q: %v", query, err)
	}
	return res
}

func TestTruthCollapse(t *testing.T) {
	cases := []struct {
		name  string
		facts string
		query string
		want  string
	}{
		{
			"all true",
			`(dog[$Rex,u=1]) (cat[$Tom,u=1])`,
			`(dog[$Rex,u=1] && cat[$Tom,u=1])`,
			"true",
		},
		{
			"any false",
			`(dog[$Rex,u=0]) (cat[$Tom,u=1])`,
			`(dog[$Rex,u=1] && cat[$Tom,u=1])`,
			"false",
		},
		{
			"any undetermined",
			`(dog[$Rex,u=1])`,
			`(dog[$Rex,u=1] && bird[$Tweety,u=1])`,
			"unknown",
		},
		{
			// a false cell decides even when another cell could not
			"false over undetermined",
			`(dog[$Rex,u=0])`,
			`(dog[$Rex,u=1] && bird[$Tweety,u=1])`,
			"false",
		},
		{
			"enumeration only",
			`(dog[$Rex,u=1])`,
			`((let x) (dog[x,u>0.5]))`,
			"unknown",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := New(askResults(t, c.facts, c.query))
			got := "unknown"
			if v := a.Truth(); v != nil {
				if *v {
					got = "true"
				} else {
					got = "false"
				}
			}
			if got != c.want {
				t.Errorf("truth = %s, want %s", got, c.want)
			}
		})
	}
}

func TestResultCell(t *testing.T) {
	a := New(askResults(t, `(dog[$Rex,u=1])`, `(dog[$Rex,u=1])`))

	if v := a.Result("dog", "$Rex"); v == nil || !*v {
		t.Errorf("Result(dog, $Rex) = %v, want true", v)
	}
	if v := a.Result("cat", "$Tom"); v != nil {
		t.Errorf("Result(cat, $Tom) = %v, want nil", v)
	}
}

func TestEnumerationAccessors(t *testing.T) {
	a := New(askResults(t, `(dog[$Rex,u=1]) (dog[$Spot,u=0.2])`, `((let x) (dog[x,u>0.5]))`))

	membs := a.Memberships()
	if len(membs) != 1 || len(membs["$Rex"]) != 1 {
		t.Fatalf("memberships = %v, want $Rex only", membs)
	}
	if got := membs["$Rex"][0].Parent(); got != "dog" {
		t.Errorf("parent = %s, want dog", got)
	}
}

func TestErrorAnswers(t *testing.T) {
	pe := ParseErr(errors.New("unclosed block"))
	if pe.Err() == nil {
		t.Fatal("parse answer carries no error")
	}
	if pe.Truth() != nil || pe.Grounded() != nil || pe.Memberships() != nil {
		t.Error("error answer exposes results")
	}

	qe := QueryErr(errors.New("belief at top level"))
	if !errors.Is(qe.Err(), internalerr.ErrQuery) {
		t.Errorf("query answer error = %v, want ErrQuery", qe.Err())
	}
	wrapped := QueryErr(internalerr.ErrQuery)
	if !errors.Is(wrapped.Err(), internalerr.ErrQuery) {
		t.Errorf("wrapped error = %v, want ErrQuery", wrapped.Err())
	}
}

func TestAnswerIDs(t *testing.T) {
	a, b := ParseErr(errors.New("x")), ParseErr(errors.New("y"))
	if len(a.ID()) != 26 || len(b.ID()) != 26 {
		t.Fatalf("ids %q, %q are not ULIDs", a.ID(), b.ID())
	}
	if a.ID() == b.ID() {
		t.Fatalf("ids collide: %q", a.ID())
	}
}
