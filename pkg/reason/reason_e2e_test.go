package reason

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cognicore/reason/pkg/reason/config"
	"github.com/cognicore/reason/pkg/reason/store/sqlite"
)

// TestEndToEnd demonstrates the complete workflow:
// 1. Telling facts and rules
// 2. Grounded asks over chained derivations
// 3. Free-variable and class-variable asks
// 4. Dated facts and out-of-order updates
// 5. Persistence round trip through SQLite
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "kb.db")

	st, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	k := newKB(t, Options{Config: config.Default(), Store: st})

	// === Phase 1: Tell facts and rules ===

	tells := []string{
		`(american[$West,u=1])
(missile[$M1,u=1])
(fn::owns[$M1,u=1;$Nono])
(fn::enemy[$Nono,u=1;$America])`,
		`((let a, b, c) ((american[a,u=1] && weapon[b,u=1] && fn::sells[a;b;c] && hostile[c,u=1]) |> criminal[a,u=1]))`,
		`((let m) (missile[m,u=1] |> weapon[m,u=1]))`,
		`((let m) ((missile[m,u=1] && fn::owns[m,u=1;$Nono]) |> fn::sells[$West,u=1;m;$Nono]))`,
		`((let h) (fn::enemy[h,u=1;$America] |> hostile[h,u=1]))`,
	}
	for _, src := range tells {
		if err := k.Tell(ctx, src); err != nil {
			t.Fatalf("tell %q: %v", src, err)
		}
	}
	k.WaitRechecks()

	// === Phase 2: Grounded asks over chained derivations ===

	a, err := k.Ask(ctx, `(criminal[$West,u=1] && hostile[$Nono,u=1] && weapon[$M1,u=1])`)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if v := a.Truth(); v == nil || !*v {
		t.Fatalf("syllogism chain = %v; want true", v)
	}
	for _, c := range []struct{ pred, subject string }{
		{"criminal", "$West"},
		{"hostile", "$Nono"},
		{"weapon", "$M1"},
	} {
		if v := a.Result(c.pred, c.subject); v == nil || !*v {
			t.Errorf("%s[%s] = %v; want true", c.pred, c.subject, v)
		}
	}

	// === Phase 3: Free-variable and class-variable asks ===

	a, err = k.Ask(ctx, `((let x) (criminal[x,u>0.5]))`)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if membs := a.Memberships(); len(membs["$West"]) != 1 {
		t.Errorf("criminals = %v; want $West", membs)
	}

	a, err = k.Ask(ctx, `((let x) (fn::sells[$West;x;$Nono]))`)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if rels := a.Relations(); len(rels["$M1"]) != 1 {
		t.Errorf("sold item = %v; want $M1", rels)
	}

	a, err = k.Ask(ctx, `((let x) (x[$West,u>0.5]))`)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if membs := a.Memberships()["$West"]; len(membs) != 2 {
		t.Errorf("classes of $West = %v; want american and criminal", membs)
	}

	// === Phase 4: Dated facts and out-of-order updates ===

	if err := k.Tell(ctx, `(tired(time="2015.07.05.10.25")[$Pancho,u=1])`); err != nil {
		t.Fatal(err)
	}
	// An older record must not displace the newer value.
	if err := k.Tell(ctx, `(tired(time="2014.01.01")[$Pancho,u=0])`); err != nil {
		t.Fatal(err)
	}
	a, err = k.Ask(ctx, `(tired[$Pancho,u=1])`)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if v := a.Truth(); v == nil || !*v {
		t.Fatalf("dated fact = %v; want the newer true", v)
	}

	// === Phase 5: Persistence round trip ===

	if err := k.Snapshot(ctx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st2, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	k2 := newKB(t, Options{Config: config.Default(), Store: st2})
	if err := k2.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	a, err = k2.Ask(ctx, `(criminal[$West,u=1] && tired[$Pancho,u=1])`)
	if err != nil {
		t.Fatalf("ask after restore: %v", err)
	}
	if v := a.Truth(); v == nil || !*v {
		t.Fatalf("restored answers = %v; want true", v)
	}

	// Rules survived as source: new facts keep deriving.
	if err := k2.Tell(ctx, `(missile[$M2,u=1])`); err != nil {
		t.Fatal(err)
	}
	a, err = k2.Ask(ctx, `(weapon[$M2,u=1])`)
	if err != nil {
		t.Fatal(err)
	}
	if v := a.Truth(); v == nil || !*v {
		t.Fatalf("derivation after restore = %v; want true", v)
	}
}
