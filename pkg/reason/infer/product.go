package infer

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cognicore/reason/pkg/reason/lang"
)

// argsProduct lazily walks the cartesian product of candidate
// assignments, one combination per call. Variables iterate in name
// order so a run always tries combinations in the same sequence. A
// product over zero variables yields exactly one empty binding, which
// is how ground rules get their single evaluation.
type argsProduct struct {
	vars  []*lang.Var
	lists [][]*lang.VarAssignment
	idx   []int
	done  bool
}

func newArgsProduct(input map[*lang.Var][]*lang.VarAssignment) *argsProduct {
	p := &argsProduct{}
	for v := range input {
		p.vars = append(p.vars, v)
	}
	sort.Slice(p.vars, func(i, j int) bool {
		if p.vars[i].Name != p.vars[j].Name {
			return p.vars[i].Name < p.vars[j].Name
		}
		return p.vars[i].ID() < p.vars[j].ID()
	})
	p.lists = make([][]*lang.VarAssignment, len(p.vars))
	p.idx = make([]int, len(p.vars))
	for i, v := range p.vars {
		p.lists[i] = input[v]
		if len(p.lists[i]) == 0 {
			p.done = true
		}
	}
	return p
}

func (p *argsProduct) next() (map[*lang.Var]*lang.VarAssignment, bool) {
	if p.done {
		return nil, false
	}
	binding := make(map[*lang.Var]*lang.VarAssignment, len(p.vars))
	for i, v := range p.vars {
		binding[v] = p.lists[i][p.idx[i]]
	}
	for i := len(p.idx) - 1; ; i-- {
		if i < 0 {
			p.done = true
			break
		}
		p.idx[i]++
		if p.idx[i] < len(p.lists[i]) {
			break
		}
		p.idx[i] = 0
	}
	return binding, true
}

// bindingKey is the dedup identity of one tried combination: variable
// ids paired with the subjects assigned to them.
func bindingKey(binding map[*lang.Var]*lang.VarAssignment) string {
	ids := make([]int, 0, len(binding))
	byID := make(map[int]string, len(binding))
	for v, va := range binding {
		ids = append(ids, v.ID())
		byID[v.ID()] = va.Name
	}
	sort.Ints(ids)
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(strconv.Itoa(id))
		b.WriteByte('=')
		b.WriteString(byID[id])
		b.WriteByte(';')
	}
	return b.String()
}
