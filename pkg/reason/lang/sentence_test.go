package lang

import (
	"errors"
	"testing"
	"time"

	"github.com/cognicore/reason/pkg/reason/internalerr"
)

// testFacts backs sentence evaluation in tests with plain maps.
type testFacts struct {
	memberships map[string]map[string]*GroundedMembership
	relations   map[string][]*GroundedRelation
}

func newTestFacts() *testFacts {
	return &testFacts{
		memberships: map[string]map[string]*GroundedMembership{},
		relations:   map[string][]*GroundedRelation{},
	}
}

func (f *testFacts) CurrentMembership(subject, parent string) *GroundedMembership {
	return f.memberships[subject][parent]
}

func (f *testFacts) CurrentRelation(q *GroundedRelation) *GroundedRelation {
	for _, r := range f.relations[q.Name()] {
		if r.Comparable(q) {
			return r
		}
	}
	return nil
}

func (f *testFacts) AssertMembership(m *GroundedMembership) error {
	byParent := f.memberships[m.Subject()]
	if byParent == nil {
		byParent = map[string]*GroundedMembership{}
		f.memberships[m.Subject()] = byParent
	}
	if cur := byParent[m.Parent()]; cur != nil {
		cur.Update(m)
		return nil
	}
	byParent[m.Parent()] = m
	return nil
}

func (f *testFacts) AssertRelation(r *GroundedRelation) error {
	for _, cur := range f.relations[r.Name()] {
		if cur.Comparable(r) {
			cur.Update(r)
			return nil
		}
	}
	f.relations[r.Name()] = append(f.relations[r.Name()], r)
	return nil
}

// tell loads grounded assertions into the fake store.
func (f *testFacts) tell(t *testing.T, src string) {
	t.Helper()
	for _, res := range ParseTell(src, ParseOpts{}) {
		if res.Err != nil {
			t.Fatalf("tell %q: %v", src, res.Err)
		}
		for _, a := range res.Assertions {
			switch d := a.(type) {
			case *ClassDecl:
				membs, err := d.ToMemberships()
				if err != nil {
					t.Fatalf("tell %q: %v", src, err)
				}
				for _, m := range membs {
					f.AssertMembership(m)
				}
			case *FuncDecl:
				rel, err := d.ToRelation()
				if err != nil {
					t.Fatalf("tell %q: %v", src, err)
				}
				f.AssertRelation(rel)
			}
		}
	}
}

func tellSentence(t *testing.T, src string) *Sentence {
	t.Helper()
	res := ParseTell(src, ParseOpts{})
	if res[0].Err != nil {
		t.Fatalf("parse %q: %v", src, res[0].Err)
	}
	if res[0].Sentence == nil {
		t.Fatalf("parse %q: expected a sentence", src)
	}
	return res[0].Sentence
}

func truthString(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "true"
	default:
		return "false"
	}
}

func TestSolveConjunction(t *testing.T) {
	const rule = `(( hound[$Rex,u=1] && fierce[$Rex,u=1] ) |> dangerous[$Rex,u=1])`
	cases := []struct {
		name  string
		facts string
		want  string
	}{
		{"both true", `(hound[$Rex,u=1]) (fierce[$Rex,u=1])`, "true"},
		{"right unknown", `(hound[$Rex,u=1])`, "unknown"},
		{"left unknown", `(fierce[$Rex,u=1])`, "unknown"},
		{"left false", `(hound[$Rex,u=0]) (fierce[$Rex,u=1])`, "false"},
		// a defined false decides the conjunction even when the other
		// operand cannot be evaluated
		{"right false, left unknown", `(fierce[$Rex,u=0])`, "false"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newTestFacts()
			f.tell(t, c.facts)
			sent := tellSentence(t, rule)
			res, err := sent.Solve(NewEvalCtx(f, nil))
			if err != nil {
				t.Fatalf("solve: %v", err)
			}
			if got := truthString(res); got != c.want {
				t.Errorf("result = %s, want %s", got, c.want)
			}
		})
	}
}

func TestSolveDisjunction(t *testing.T) {
	sentSrc := `(running[$Rex,u=1] || sleeping[$Rex,u=1])`

	// exactly one operand holds
	f := newTestFacts()
	f.tell(t, `(running[$Rex,u=1]) (sleeping[$Rex,u=0])`)
	sent := tellSentence(t, sentSrc)
	res, err := sent.Solve(NewEvalCtx(f, nil))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if got := truthString(res); got != "true" {
		t.Errorf("one side holds: result = %s, want true", got)
	}

	// both hold: exclusive by default, true under inclusive or
	f.tell(t, `(sleeping[$Rex,u=1])`)
	res, err = sent.Solve(NewEvalCtx(f, nil))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if got := truthString(res); got != "false" {
		t.Errorf("both hold: result = %s, want false", got)
	}
	ev := NewEvalCtx(f, nil)
	ev.InclusiveOr = true
	res, err = sent.Solve(ev)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if got := truthString(res); got != "true" {
		t.Errorf("inclusive or: result = %s, want true", got)
	}

	// an undecidable operand leaves the whole disjunction undecided
	f2 := newTestFacts()
	f2.tell(t, `(running[$Rex,u=1])`)
	res, err = sent.Solve(NewEvalCtx(f2, nil))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if got := truthString(res); got != "unknown" {
		t.Errorf("one side unknown: result = %s, want unknown", got)
	}
}

func TestSolveImplicationAndEquivalence(t *testing.T) {
	cases := []struct {
		name  string
		facts string
		src   string
		want  string
	}{
		{
			"implication broken",
			`(cloudy[$sky,u=1]) (raining[$sky,u=0])`,
			`(cloudy[$sky,u=1] => raining[$sky,u=1])`,
			"false",
		},
		{
			"implication vacuous",
			`(cloudy[$sky,u=0]) (raining[$sky,u=0])`,
			`(cloudy[$sky,u=1] => raining[$sky,u=1])`,
			"true",
		},
		{
			"implication holds",
			`(cloudy[$sky,u=1]) (raining[$sky,u=1])`,
			`(cloudy[$sky,u=1] => raining[$sky,u=1])`,
			"true",
		},
		{
			"implication undecided",
			`(cloudy[$sky,u=1])`,
			`(cloudy[$sky,u=1] => raining[$sky,u=1])`,
			"unknown",
		},
		{
			"equivalence holds",
			`(cloudy[$sky,u=1]) (raining[$sky,u=1])`,
			`(cloudy[$sky,u=1] <=> raining[$sky,u=1])`,
			"true",
		},
		{
			"equivalence broken",
			`(cloudy[$sky,u=1]) (raining[$sky,u=0])`,
			`(cloudy[$sky,u=1] <=> raining[$sky,u=1])`,
			"false",
		},
		{
			"equivalence undecided",
			`(raining[$sky,u=1])`,
			`(cloudy[$sky,u=1] <=> raining[$sky,u=1])`,
			"unknown",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newTestFacts()
			f.tell(t, c.facts)
			sent := tellSentence(t, c.src)
			res, err := sent.Solve(NewEvalCtx(f, nil))
			if err != nil {
				t.Fatalf("solve: %v", err)
			}
			if got := truthString(res); got != c.want {
				t.Errorf("result = %s, want %s", got, c.want)
			}
		})
	}
}

func TestBeliefGroundsConsequent(t *testing.T) {
	src := `(hound[$Rex,u=1] |> dangerous[$Rex,u=1])`

	// a true antecedent materializes the consequent
	f := newTestFacts()
	f.tell(t, `(hound[$Rex,u=1])`)
	sent := tellSentence(t, src)
	ev := NewEvalCtx(f, nil)
	res, err := sent.Solve(ev)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if got := truthString(res); got != "true" {
		t.Fatalf("result = %s, want true", got)
	}
	m := f.CurrentMembership("$Rex", "dangerous")
	if m == nil {
		t.Fatal("derived fact not in store")
	}
	if v, ok := m.Value(); !ok || v != 1 {
		t.Errorf("derived value = %v, %v; want 1", v, ok)
	}
	if len(ev.Grounded) != 1 || ev.Grounded[0].Membership == nil {
		t.Errorf("grounded records = %v, want one membership", ev.Grounded)
	}

	// a false antecedent is still a decided proof and grounds too
	f = newTestFacts()
	f.tell(t, `(hound[$Rex,u=0])`)
	ev = NewEvalCtx(f, nil)
	res, err = sent.Solve(ev)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if got := truthString(res); got != "false" {
		t.Fatalf("result = %s, want false", got)
	}
	if f.CurrentMembership("$Rex", "dangerous") == nil {
		t.Error("decided proof should ground the consequent")
	}

	// an undecided antecedent grounds nothing
	f = newTestFacts()
	ev = NewEvalCtx(f, nil)
	res, err = sent.Solve(ev)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res != nil {
		t.Fatalf("result = %s, want unknown", truthString(res))
	}
	if f.CurrentMembership("$Rex", "dangerous") != nil {
		t.Error("undecided proof must not ground anything")
	}
	if len(ev.Grounded) != 0 {
		t.Errorf("grounded records = %v, want none", ev.Grounded)
	}
}

func TestConsequentDisjunctionSelectsBranch(t *testing.T) {
	src := `(sunny[$today,u=1] |> (indoors[$Rex,u=1] || outdoors[$Rex,u=1]))`

	// truth selects the right branch
	f := newTestFacts()
	f.tell(t, `(sunny[$today,u=1])`)
	sent := tellSentence(t, src)
	if _, err := sent.Solve(NewEvalCtx(f, nil)); err != nil {
		t.Fatalf("solve: %v", err)
	}
	if f.CurrentMembership("$Rex", "outdoors") == nil {
		t.Error("right branch not grounded")
	}
	if f.CurrentMembership("$Rex", "indoors") != nil {
		t.Error("left branch grounded on a true proof")
	}

	// falsity selects the left branch
	f = newTestFacts()
	f.tell(t, `(sunny[$today,u=0])`)
	if _, err := sent.Solve(NewEvalCtx(f, nil)); err != nil {
		t.Fatalf("solve: %v", err)
	}
	if f.CurrentMembership("$Rex", "indoors") == nil {
		t.Error("left branch not grounded")
	}
	if f.CurrentMembership("$Rex", "outdoors") != nil {
		t.Error("right branch grounded on a false proof")
	}
}

func TestBeliefSolveUnderAssignment(t *testing.T) {
	f := newTestFacts()
	sent := tellSentence(t, `((let x) (hound[x,u=1] |> dangerous[x,u=1]))`)
	x := sent.Vars()[0]

	stored := NewMembership("$Rex", "hound", 1, OpEqual, time.Now().UTC())
	va := NewVarAssignment("$Rex", map[string]*GroundedMembership{"hound": stored}, nil)
	res, err := sent.Solve(NewEvalCtx(f, map[*Var]*VarAssignment{x: va}))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if got := truthString(res); got != "true" {
		t.Fatalf("result = %s, want true", got)
	}
	m := f.CurrentMembership("$Rex", "dangerous")
	if m == nil {
		t.Fatal("derived fact not in store")
	}

	// without an assignment the variable cannot be evaluated
	res, err = sent.Solve(NewEvalCtx(newTestFacts(), nil))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res != nil {
		t.Errorf("unassigned solve = %s, want unknown", truthString(res))
	}
}

func TestTimeBindingFlowsToConsequent(t *testing.T) {
	attackedAt := time.Date(2018, 5, 10, 12, 0, 0, 0, time.UTC)
	rel, err := NewRelation("attacked", []RelArg{{Name: "$Rex"}, {Name: "$John"}}, attackedAt)
	if err != nil {
		t.Fatalf("NewRelation: %v", err)
	}
	f := newTestFacts()
	f.AssertRelation(rel)

	src := `((let x, t1:time)
	 (fn::attacked(time=t1)[x;$John] |> dangerous(time=t1)[x,u=1]))`
	sent := tellSentence(t, src)
	var x *Var
	for _, v := range sent.Vars() {
		if !v.Time {
			x = v
		}
	}
	va := NewVarAssignment("$Rex", nil, map[string][]*GroundedRelation{"attacked": {rel}})
	res, err := sent.Solve(NewEvalCtx(f, map[*Var]*VarAssignment{x: va}))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if got := truthString(res); got != "true" {
		t.Fatalf("result = %s, want true", got)
	}

	// the derived fact carries the matched fact's assertion time, not
	// the insertion wall clock
	m := f.CurrentMembership("$Rex", "dangerous")
	if m == nil {
		t.Fatal("derived fact not in store")
	}
	at, ok := m.Time()
	if !ok || !at.Equal(attackedAt) {
		t.Errorf("derived time = %v, want %v", at, attackedAt)
	}
}

func TestTimeCalcComparesBindings(t *testing.T) {
	attackedAt := time.Date(2018, 5, 10, 12, 0, 0, 0, time.UTC)
	rel, err := NewRelation("attacked", []RelArg{{Name: "$Rex"}, {Name: "$John"}}, attackedAt)
	if err != nil {
		t.Fatalf("NewRelation: %v", err)
	}

	solve := func(t *testing.T, src string) *bool {
		t.Helper()
		f := newTestFacts()
		f.AssertRelation(rel)
		sent := tellSentence(t, src)
		var x *Var
		for _, v := range sent.Vars() {
			if !v.Time {
				x = v
			}
		}
		va := NewVarAssignment("$Rex", nil, map[string][]*GroundedRelation{"attacked": {rel}})
		res, err := sent.Solve(NewEvalCtx(f, map[*Var]*VarAssignment{x: va}))
		if err != nil {
			t.Fatalf("solve: %v", err)
		}
		return res
	}

	// the attack predates *now, so t1<t2 holds
	res := solve(t, `((let x, t1:time, t2:time="*now")
	 (( fn::attacked(time=t1)[x;$John] && fn::time_calc(t1<t2) ) |> dangerous[x,u=1]))`)
	if got := truthString(res); got != "true" {
		t.Errorf("t1<t2: result = %s, want true", got)
	}

	// flipped comparison fails
	res = solve(t, `((let x, t1:time, t2:time="*now")
	 (( fn::attacked(time=t1)[x;$John] && fn::time_calc(t1>t2) ) |> dangerous[x,u=1]))`)
	if got := truthString(res); got != "false" {
		t.Errorf("t1>t2: result = %s, want false", got)
	}

	// with no matched antecedent the binding never happens and the
	// comparison stays undecided
	f := newTestFacts()
	sent := tellSentence(t, `((let x, t1:time, t2:time="*now")
	 (( fn::attacked(time=t1)[x;$John] && fn::time_calc(t1<t2) ) |> dangerous[x,u=1]))`)
	res, err = sent.Solve(NewEvalCtx(f, nil))
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res != nil {
		t.Errorf("unbound time var: result = %s, want unknown", truthString(res))
	}
}

func TestSolveContractError(t *testing.T) {
	// a stored fact without a truth value cannot answer a valued query
	f := newTestFacts()
	f.tell(t, `(hound[$Rex])`)
	sent := tellSentence(t, `(hound[$Rex,u=1] |> dangerous[$Rex,u=1])`)
	_, err := sent.Solve(NewEvalCtx(f, nil))
	if !errors.Is(err, internalerr.ErrContract) {
		t.Errorf("error = %v, want ErrContract", err)
	}
}

func TestSentenceStructuralID(t *testing.T) {
	a := tellSentence(t, `((let x) (professor[x,u=1] |> person[x,u=1]))`)
	b := tellSentence(t, `((let x) (professor[x,u=1] |> person[x,u=1]))`)
	if a.ID() != b.ID() {
		t.Errorf("identical sentences got different ids:\n%s\n%s", a.ID(), b.ID())
	}
	if a.Seq() == b.Seq() {
		t.Error("compile order must stay total")
	}
	c := tellSentence(t, `((let x) (professor[x,u=1] |> dean[x,u=1]))`)
	if a.ID() == c.ID() {
		t.Errorf("different sentences share id %s", a.ID())
	}
}
