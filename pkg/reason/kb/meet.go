package kb

import (
	"sort"

	"github.com/cognicore/reason/pkg/reason/lang"
)

// ByClass returns, per requested class name, every member fact
// currently registered on it. Unknown classes are absent from the map.
func (r *Representation) ByClass(names []string) map[string][]*lang.GroundedMembership {
	out := map[string][]*lang.GroundedMembership{}
	for _, name := range names {
		c := r.Class(name)
		if c == nil {
			continue
		}
		out[name] = c.Members()
	}
	return out
}

// ByRelationship returns, per requested relation, the stored instances
// grouped under every subject taking part in them. Unknown relations
// are absent from the map.
func (r *Representation) ByRelationship(decls []*lang.FuncDecl) map[string]map[string][]*lang.GroundedRelation {
	out := map[string]map[string][]*lang.GroundedRelation{}
	for _, d := range decls {
		c := r.Class(d.Name())
		if c == nil {
			continue
		}
		bySubject := map[string][]*lang.GroundedRelation{}
		for _, rel := range c.RelMembers() {
			for _, subject := range rel.Subjects() {
				bySubject[subject] = append(bySubject[subject], rel)
			}
		}
		out[d.Name()] = bySubject
	}
	return out
}

// MeetSentReq computes, per sentence variable, the candidate subjects
// that appear in every antecedent class and relation naming the
// variable, attaching the qualifying facts to each candidate. A nil
// return means some variable has no candidate at all and the sentence
// cannot currently be applied.
func (r *Representation) MeetSentReq(req map[*lang.Var][]lang.Assert) map[*lang.Var][]*lang.VarAssignment {
	results := map[*lang.Var][]*lang.VarAssignment{}
	for v, asserts := range req {
		var classNames []string
		var funcDecls []*lang.FuncDecl
		for _, a := range asserts {
			switch d := a.(type) {
			case *lang.ClassDecl:
				classNames = append(classNames, d.Name())
			case *lang.FuncDecl:
				if d.Variant() == lang.Relational {
					funcDecls = append(funcDecls, d)
				}
			}
		}
		byCls := r.ByClass(classNames)
		byFunc := r.ByRelationship(funcDecls)

		// A subject qualifies for the class side when it appears in
		// every required member list, and for the relation side when it
		// takes part in every required relation. Member lists hold one
		// fact per subject, so counting appearances suffices.
		clsCount := map[string]int{}
		for _, members := range byCls {
			for _, m := range members {
				clsCount[m.Subject()]++
			}
		}
		funcCount := map[string]int{}
		for _, bySubject := range byFunc {
			for subject := range bySubject {
				funcCount[subject]++
			}
		}

		var candidates []string
		switch {
		case len(classNames) > 0 && len(funcDecls) > 0:
			for name, n := range clsCount {
				if n == len(classNames) && funcCount[name] == len(funcDecls) {
					candidates = append(candidates, name)
				}
			}
		case len(funcDecls) > 0:
			for name, n := range funcCount {
				if n == len(funcDecls) {
					candidates = append(candidates, name)
				}
			}
		default:
			for name, n := range clsCount {
				if n == len(classNames) {
					candidates = append(candidates, name)
				}
			}
		}
		if len(candidates) == 0 {
			return nil
		}
		sort.Strings(candidates)

		for _, name := range candidates {
			classes := map[string]*lang.GroundedMembership{}
			for parent, members := range byCls {
				for _, m := range members {
					if m.Subject() == name {
						classes[parent] = m
					}
				}
			}
			funcs := map[string][]*lang.GroundedRelation{}
			for fn, bySubject := range byFunc {
				if rels := bySubject[name]; len(rels) > 0 {
					funcs[fn] = rels
				}
			}
			results[v] = append(results[v], lang.NewVarAssignment(name, classes, funcs))
		}
	}
	return results
}

// RulesFor returns the conditional sentences indexed under a predicate
// name, newest first. Recency breaks ties between rules deriving the
// same fact.
func (r *Representation) RulesFor(pred string) []*lang.Sentence {
	c := r.Class(pred)
	if c == nil {
		return nil
	}
	rules := c.BeliefsFor(pred)
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].Created().Equal(rules[j].Created()) {
			return rules[i].Created().After(rules[j].Created())
		}
		return rules[i].Seq() > rules[j].Seq()
	})
	return rules
}
