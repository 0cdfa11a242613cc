package infer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/cognicore/reason/pkg/reason/config"
	"github.com/cognicore/reason/pkg/reason/internalerr"
	"github.com/cognicore/reason/pkg/reason/kb"
	"github.com/cognicore/reason/pkg/reason/lang"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newEngine(t *testing.T, src string) (*Engine, *kb.Representation) {
	t.Helper()
	r := kb.New(zap.NewNop(), lang.ParseOpts{StrictVars: true})
	if src != "" {
		if _, err := r.Tell(context.Background(), src); err != nil {
			t.Fatalf("tell: %v", err)
		}
	}
	return New(r, config.Default(), zap.NewNop()), r
}

func ask(t *testing.T, e *Engine, src string) *Results {
	t.Helper()
	res, err := e.Ask(context.Background(), src)
	if err != nil {
		t.Fatalf("ask %q: %v", src, err)
	}
	return res
}

func proofCell(t *testing.T, res *Results, pred, subject string) *Proof {
	t.Helper()
	cells, ok := res.Grounded()[pred]
	if !ok {
		t.Fatalf("no result cells for %s", pred)
	}
	p, ok := cells[subject]
	if !ok {
		t.Fatalf("no result cell for %s[%s]", pred, subject)
	}
	return p
}

func wantTruth(t *testing.T, res *Results, pred, subject string, want bool) {
	t.Helper()
	p := proofCell(t, res, pred, subject)
	if p == nil {
		t.Fatalf("%s[%s] undetermined; want %v", pred, subject, want)
	}
	if p.Value != want {
		t.Fatalf("%s[%s] = %v; want %v", pred, subject, p.Value, want)
	}
}

func TestAskDirectCheck(t *testing.T) {
	e, _ := newEngine(t, `(professor[$Lucy,u=1])`)

	wantTruth(t, ask(t, e, `(professor[$Lucy,u>0.5])`), "professor", "$Lucy", true)
	wantTruth(t, ask(t, e, `(professor[$Lucy,u<0.5])`), "professor", "$Lucy", false)
	wantTruth(t, ask(t, e, `(professor[$Lucy,u=1])`), "professor", "$Lucy", true)
}

func TestAskUndetermined(t *testing.T) {
	e, _ := newEngine(t, `(professor[$Lucy,u=1])`)

	res := ask(t, e, `(person[$Bob,u=1])`)
	if p := proofCell(t, res, "person", "$Bob"); p != nil {
		t.Fatalf("unconstrained query = %+v; want undetermined", p)
	}
}

func TestAskRoundTrip(t *testing.T) {
	e, r := newEngine(t, `(professor[$Lucy,u=1])
(dean[$John,u=1])
((let x) (dean[x,u=1] |> professor[x,u=1]))
((let x) (professor[x,u=1] |> person[x,u=1]))`)

	// person[$John] takes two chained derivations: dean to professor,
	// professor to person.
	wantTruth(t, ask(t, e, `(person[$John,u=1])`), "person", "$John", true)
	if m := r.CurrentMembership("$John", "professor"); m == nil {
		t.Fatal("intermediate derivation not materialized")
	}

	res := ask(t, e, `(professor[$Lucy,u>0] && person[$Lucy,u<1])`)
	wantTruth(t, res, "professor", "$Lucy", true)
	wantTruth(t, res, "person", "$Lucy", false)
}

func criminalWest() string {
	return `(american[$West,u=1])
(missile[$M1,u=1])
(fn::owns[$M1,u=1;$Nono])
(fn::enemy[$Nono,u=1;$America])
((let a, b, c) ((american[a,u=1] && weapon[b,u=1] && fn::sells[a;b;c] && hostile[c,u=1]) |> criminal[a,u=1]))
((let m) (missile[m,u=1] |> weapon[m,u=1]))
((let m) ((missile[m,u=1] && fn::owns[m,u=1;$Nono]) |> fn::sells[$West,u=1;m;$Nono]))
((let h) (fn::enemy[h,u=1;$America] |> hostile[h,u=1]))`
}

func TestCriminalWest(t *testing.T) {
	e, r := newEngine(t, criminalWest())

	res := ask(t, e, `(criminal[$West,u=1] && hostile[$Nono,u=1] && weapon[$M1,u=1])`)
	wantTruth(t, res, "criminal", "$West", true)
	wantTruth(t, res, "hostile", "$Nono", true)
	wantTruth(t, res, "weapon", "$M1", true)

	// The chain materialized every intermediate fact.
	if r.CurrentMembership("$M1", "weapon") == nil {
		t.Fatal("weapon[$M1] not derived")
	}
	if r.CurrentMembership("$Nono", "hostile") == nil {
		t.Fatal("hostile[$Nono] not derived")
	}
}

func TestAskRelationDerived(t *testing.T) {
	e, _ := newEngine(t, criminalWest())

	res := ask(t, e, `(fn::sells[$West,u=1;$M1;$Nono])`)
	for _, subject := range []string{"$West", "$M1", "$Nono"} {
		wantTruth(t, res, "sells", subject, true)
	}
}

func TestRulePrecedenceNewestFirst(t *testing.T) {
	e, r := newEngine(t, `(bird[$Tweety,u=1])
((let x) (bird[x,u=1] |> flies[x,u=0.5]))
((let x) (bird[x,u=1] |> flies[x,u=1]))`)

	wantTruth(t, ask(t, e, `(flies[$Tweety,u=1])`), "flies", "$Tweety", true)
	if v, _ := r.CurrentMembership("$Tweety", "flies").Value(); v != 1 {
		t.Fatalf("stored flies = %v; want the newest rule's 1", v)
	}

	// Reversed tell order: the half-degree rule is now the newest and
	// determines the outcome.
	e2, r2 := newEngine(t, `(bird[$Tweety,u=1])
((let x) (bird[x,u=1] |> flies[x,u=1]))
((let x) (bird[x,u=1] |> flies[x,u=0.5]))`)

	wantTruth(t, ask(t, e2, `(flies[$Tweety,u=1])`), "flies", "$Tweety", false)
	if v, _ := r2.CurrentMembership("$Tweety", "flies").Value(); v != 0.5 {
		t.Fatalf("stored flies = %v; want the newest rule's 0.5", v)
	}
}

func TestAskPredicatesIgnoreCurrent(t *testing.T) {
	e, r := newEngine(t, `(professor[$John,u=1])
(person[$John,u=0.7])
((let x) (professor[x,u=1] |> person[x,u=1]))`)
	ctx := context.Background()

	parsed, err := lang.ParseQuery(`(person[$John,u=1])`, lang.ParseOpts{StrictVars: true})
	if err != nil {
		t.Fatal(err)
	}
	preds := parsed[0].Assertions

	// The direct check answers from the stored value.
	res, err := e.AskPredicates(ctx, preds, false)
	if err != nil {
		t.Fatal(err)
	}
	wantTruth(t, res, "person", "$John", false)

	// Ignoring it forces re-derivation, which overwrites the store.
	res, err = e.AskPredicates(ctx, preds, true)
	if err != nil {
		t.Fatal(err)
	}
	wantTruth(t, res, "person", "$John", true)
	if v, _ := r.CurrentMembership("$John", "person").Value(); v != 1 {
		t.Fatalf("stored person = %v; want re-derived 1", v)
	}
}

func TestAskFreeMembershipDerives(t *testing.T) {
	e, _ := newEngine(t, `(professor[$Lucy,u=1])
(ugly[$Lucy,u=0.2])
((let x) (professor[x,u=1] |> person[x,u=1]))`)

	res := ask(t, e, `((let x) (person[x,u>0.5]))`)
	got := res.Memberships()
	if len(got) != 1 || len(got["$Lucy"]) != 1 || got["$Lucy"][0].Parent() != "person" {
		t.Fatalf("memberships = %v; want person[$Lucy] only", got)
	}

	// Nothing passes a condition the stored degrees cannot meet.
	res = ask(t, e, `((let x) (ugly[x,u>0.5]))`)
	if got := res.Memberships(); len(got) != 0 {
		t.Fatalf("memberships = %v; want none", got)
	}
}

func TestOwnersQueryAfterRecheck(t *testing.T) {
	r := kb.New(zap.NewNop(), lang.ParseOpts{StrictVars: true})
	e := New(r, config.Default(), zap.NewNop())
	ctx := context.Background()

	if _, err := r.Tell(ctx, `(professor[$Lucy,u=1])`); err != nil {
		t.Fatal(err)
	}
	rc, err := r.Tell(ctx, `((let x) (professor[x,u=1] |> person[x,u=1]))`)
	if err != nil {
		t.Fatal(err)
	}
	// Re-derive the fresh belief's consequents the way the public
	// layer does after a tell.
	preds := make([]lang.Assert, 0, len(rc))
	for _, c := range rc {
		preds = append(preds, c.Pred)
	}
	if _, err := e.AskPredicates(ctx, preds, true); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Tell(ctx, `(ugly[$Lucy,u=0.2])`); err != nil {
		t.Fatal(err)
	}

	res := ask(t, e, `((let x) (x[$Lucy,u>0.5]))`)
	var parents []string
	for _, m := range res.Memberships()["$Lucy"] {
		parents = append(parents, m.Parent())
	}
	sort.Strings(parents)
	if diff := cmp.Diff([]string{"person", "professor"}, parents); diff != "" {
		t.Fatalf("classes of $Lucy (-want +got):\n%s", diff)
	}
}

func TestAskFreeRelationPosition(t *testing.T) {
	e, _ := newEngine(t, `(fn::sells[$M1,u=1;$West;$Nono])`)

	res := ask(t, e, `((let x) (fn::sells[x;$West;$Nono]))`)
	if got := res.Relations(); len(got["$M1"]) != 1 {
		t.Fatalf("relations = %v; want the $M1 instance", got)
	}

	res = ask(t, e, `((let x) (fn::sells[$M1;x;$Nono]))`)
	if got := res.Relations(); len(got["$West"]) != 1 {
		t.Fatalf("relations = %v; want the $West instance", got)
	}

	res = ask(t, e, `((let x) (fn::sells[x,u<0.5;$West;$Nono]))`)
	if got := res.Relations(); len(got) != 0 {
		t.Fatalf("relations = %v; want none below 0.5", got)
	}

	res = ask(t, e, `((let x) (fn::sells[x;$East;$Nono]))`)
	if got := res.Relations(); len(got) != 0 {
		t.Fatalf("relations = %v; want none for unmatched subjects", got)
	}
}

func TestDisjunctionFlag(t *testing.T) {
	src := `(sunny[$today,u=1])
(cloudy[$today,u=1])
((let d) ((sunny[d,u=1] || cloudy[d,u=1]) |> nice[d,u=1]))`

	// Historical table: both true is false.
	e, _ := newEngine(t, src)
	wantTruth(t, ask(t, e, `(nice[$today,u=1])`), "nice", "$today", false)

	cfg := config.Default()
	cfg.XORDisjunction = false
	r := kb.New(zap.NewNop(), lang.ParseOpts{StrictVars: true})
	if _, err := r.Tell(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	e2 := New(r, cfg, zap.NewNop())
	wantTruth(t, ask(t, e2, `(nice[$today,u=1])`), "nice", "$today", true)
}

func TestAskRejections(t *testing.T) {
	e, _ := newEngine(t, `(professor[$Lucy,u=1])`)

	cases := []string{
		`((let x, y) (x[y,u>0]))`,
		`((let x) (professor[x,u=1] |> person[x,u=1]))`,
		`((let x) (fn::x[$a;$b]))`,
	}
	for _, src := range cases {
		if _, err := e.Ask(context.Background(), src); !errors.Is(err, internalerr.ErrQuery) {
			t.Errorf("ask %q error = %v; want ErrQuery", src, err)
		}
	}
}

func TestAskContractViolation(t *testing.T) {
	e, _ := newEngine(t, `(dog[$Rex])`)

	_, err := e.Ask(context.Background(), `(dog[$Rex,u>0.5])`)
	if !errors.Is(err, internalerr.ErrContract) {
		t.Fatalf("err = %v; want contract violation", err)
	}
}

func TestAskCancelled(t *testing.T) {
	e, _ := newEngine(t, `(professor[$Lucy,u=1])`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Ask(ctx, `(person[$Bob,u=1])`); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
}

func TestDispatchSweepsCandidates(t *testing.T) {
	// Many candidate bindings, every one provable, only one comparable
	// to the query: whatever order the workers pick, the comparable
	// binding is always reached.
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "(person[$p%02d,u=1])\n", i)
	}
	b.WriteString(`((let x) (person[x,u=1] |> admitted[x,u=1]))`)

	e, _ := newEngine(t, b.String())
	wantTruth(t, ask(t, e, `(admitted[$p07,u=1])`), "admitted", "$p07", true)
}
