package infer

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cognicore/reason/pkg/reason/lang"
)

func compileBelief(t *testing.T, src string) *lang.Sentence {
	t.Helper()
	results := lang.ParseTell(src, lang.ParseOpts{})
	if len(results) != 1 || results[0].Sentence == nil {
		t.Fatalf("parse %q: %+v", src, results)
	}
	return results[0].Sentence
}

func namedVar(t *testing.T, s *lang.Sentence, name string) *lang.Var {
	t.Helper()
	for _, v := range s.Vars() {
		if v.Name == name {
			return v
		}
	}
	t.Fatalf("variable %s not declared", name)
	return nil
}

func TestArgsProductDeterministicOrder(t *testing.T) {
	s := compileBelief(t, `((let x, y) ((professor[x,u=1] && fn::likes[x;y]) |> friend[x,u=1]))`)
	x, y := namedVar(t, s, "x"), namedVar(t, s, "y")

	input := map[*lang.Var][]*lang.VarAssignment{
		x: {lang.NewVarAssignment("$a", nil, nil), lang.NewVarAssignment("$b", nil, nil)},
		y: {lang.NewVarAssignment("$c", nil, nil), lang.NewVarAssignment("$d", nil, nil)},
	}
	collect := func() []string {
		var out []string
		p := newArgsProduct(input)
		for {
			binding, ok := p.next()
			if !ok {
				return out
			}
			out = append(out, binding[x].Name+"/"+binding[y].Name)
		}
	}

	want := []string{"$a/$c", "$a/$d", "$b/$c", "$b/$d"}
	if diff := cmp.Diff(want, collect()); diff != "" {
		t.Fatalf("combination order (-want +got):\n%s", diff)
	}
	// A fresh product over the same input walks the same sequence.
	if diff := cmp.Diff(want, collect()); diff != "" {
		t.Fatalf("second walk differs (-want +got):\n%s", diff)
	}
}

func TestArgsProductNoVars(t *testing.T) {
	// Ground rules evaluate exactly once: a product over zero
	// variables yields one empty binding.
	p := newArgsProduct(nil)
	binding, ok := p.next()
	if !ok || len(binding) != 0 {
		t.Fatalf("first = %v, %v; want one empty binding", binding, ok)
	}
	if _, ok := p.next(); ok {
		t.Fatal("product over zero variables should stop after one binding")
	}
}

func TestArgsProductNoCandidates(t *testing.T) {
	s := compileBelief(t, `((let x) (professor[x,u=1] |> person[x,u=1]))`)
	x := namedVar(t, s, "x")
	p := newArgsProduct(map[*lang.Var][]*lang.VarAssignment{x: nil})
	if binding, ok := p.next(); ok {
		t.Fatalf("binding = %v; want none for a variable with no candidates", binding)
	}
}

func TestBindingKeyIdentity(t *testing.T) {
	s := compileBelief(t, `((let x, y) ((professor[x,u=1] && fn::likes[x;y]) |> friend[x,u=1]))`)
	x, y := namedVar(t, s, "x"), namedVar(t, s, "y")
	a := lang.NewVarAssignment("$a", nil, nil)
	c := lang.NewVarAssignment("$c", nil, nil)

	k1 := bindingKey(map[*lang.Var]*lang.VarAssignment{x: a, y: c})
	k2 := bindingKey(map[*lang.Var]*lang.VarAssignment{y: c, x: a})
	if k1 != k2 {
		t.Fatalf("insertion order changed the key: %q vs %q", k1, k2)
	}
	if k3 := bindingKey(map[*lang.Var]*lang.VarAssignment{x: c, y: a}); k1 == k3 {
		t.Fatal("different assignments produced the same key")
	}
}
