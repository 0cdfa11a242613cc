// Package reason is the public face of the knowledge engine: a fuzzy
// fact and rule store behind tell/ask, with background re-derivation
// of told beliefs and optional persistence.
package reason

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/reason/pkg/reason/answer"
	"github.com/cognicore/reason/pkg/reason/config"
	"github.com/cognicore/reason/pkg/reason/infer"
	"github.com/cognicore/reason/pkg/reason/internalerr"
	"github.com/cognicore/reason/pkg/reason/kb"
	"github.com/cognicore/reason/pkg/reason/lang"
	"github.com/cognicore/reason/pkg/reason/store"
	"github.com/cognicore/reason/pkg/reason/store/memstore"
)

// Options configures a KB instance.
type Options struct {
	Config config.Config
	Logger *zap.Logger // nil disables logging
	Store  store.Store // nil keeps snapshots in memory
}

// KB is the main knowledge engine facade.
type KB struct {
	cfg    config.Config
	log    *zap.Logger
	rep    *kb.Representation
	engine *infer.Engine
	st     store.Store
	opts   lang.ParseOpts
	cache  *lru.Cache[string, []lang.ParseResult]

	bg     *errgroup.Group
	bgCtx  context.Context
	bgStop context.CancelFunc
}

// New creates a KB with the given options.
func New(opts Options) (*KB, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	st := opts.Store
	if st == nil {
		st = memstore.New()
	}

	var cache *lru.Cache[string, []lang.ParseResult]
	if cfg.QueryCacheSize > 0 {
		var err error
		if cache, err = lru.New[string, []lang.ParseResult](cfg.QueryCacheSize); err != nil {
			return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
		}
	}

	parseOpts := lang.ParseOpts{StrictVars: cfg.StrictVars}
	rep := kb.New(log, parseOpts)
	bgCtx, bgStop := context.WithCancel(context.Background())
	bg := &errgroup.Group{}
	bg.SetLimit(cfg.Workers)

	return &KB{
		cfg:    cfg,
		log:    log,
		rep:    rep,
		engine: infer.New(rep, cfg, log),
		st:     st,
		opts:   parseOpts,
		cache:  cache,
		bg:     bg,
		bgCtx:  bgCtx,
		bgStop: bgStop,
	}, nil
}

// Tell parses source in assertion mode and applies every valid block:
// facts upsert, beliefs and rules register. Consequents of freshly
// told beliefs are re-derived in the background, so rules fire on
// facts that already satisfy their antecedents; WaitRechecks blocks
// until those derivations land. Block failures accumulate in the
// returned error while the valid blocks still apply.
func (k *KB) Tell(ctx context.Context, source string) error {
	rechecks, err := k.rep.Tell(ctx, source)
	for _, rc := range rechecks {
		k.spawnRecheck(rc)
	}
	return err
}

func (k *KB) spawnRecheck(rc kb.Recheck) {
	pred := rc.Pred.Name()
	k.log.Debug("recheck dispatched", zap.String("predicate", pred))
	k.bg.Go(func() error {
		if _, err := k.engine.AskPredicates(k.bgCtx, []lang.Assert{rc.Pred}, true); err != nil {
			if k.bgCtx.Err() == nil {
				k.log.Warn("recheck failed", zap.String("predicate", pred), zap.Error(err))
			}
			return nil
		}
		k.log.Debug("recheck complete", zap.String("predicate", pred))
		return nil
	})
}

// WaitRechecks blocks until the background derivations dispatched by
// earlier tells have finished.
func (k *KB) WaitRechecks() {
	k.bg.Wait()
}

// Ask answers query source against the store. The returned answer is
// never nil: parse and query-shape failures come back as an error
// answer alongside the error itself, so callers can branch on either.
// Engine failures during proof search return a nil answer.
func (k *KB) Ask(ctx context.Context, source string) (*answer.Answer, error) {
	start := time.Now()
	parsed, ok := k.cachedParse(source)
	if !ok {
		var err error
		if parsed, err = lang.ParseQuery(source, k.opts); err != nil {
			a := answer.ParseErr(err)
			k.log.Debug("ask rejected", zap.String("answer", a.ID()), zap.String("query", source), zap.Error(err))
			return a, err
		}
		if k.cache != nil {
			k.cache.Add(source, parsed)
		}
	}

	res, err := k.engine.AskParsed(ctx, parsed)
	if err != nil {
		if errors.Is(err, internalerr.ErrQuery) {
			a := answer.QueryErr(err)
			k.log.Debug("ask rejected", zap.String("answer", a.ID()), zap.String("query", source), zap.Error(err))
			return a, err
		}
		return nil, err
	}

	a := answer.New(res)
	k.log.Debug("ask answered",
		zap.String("answer", a.ID()),
		zap.String("query", source),
		zap.Duration("took", time.Since(start)))
	return a, nil
}

func (k *KB) cachedParse(source string) ([]lang.ParseResult, bool) {
	if k.cache == nil {
		return nil, false
	}
	return k.cache.Get(source)
}

// Snapshot writes the current facts and sentence sources to the
// store. Derived facts snapshot like told ones.
func (k *KB) Snapshot(ctx context.Context) error {
	var count int
	for _, m := range k.rep.Memberships() {
		rec := store.MembershipRec{Subject: m.Subject(), Parent: m.Parent()}
		rec.Value, rec.HasVal = m.Value()
		rec.At, _ = m.Time()
		if err := k.st.SaveMembership(ctx, rec); err != nil {
			return fmt.Errorf("snapshot membership %s: %w", m, err)
		}
		count++
	}
	for _, rel := range k.rep.Relations() {
		rec := store.RelationRec{Name: rel.Name()}
		rec.At, _ = rel.Time()
		for _, a := range rel.Args() {
			rec.Args = append(rec.Args, store.ArgRec{Name: a.Name, Value: a.Value, HasVal: a.HasVal})
		}
		if err := k.st.SaveRelation(ctx, rec); err != nil {
			return fmt.Errorf("snapshot relation %s: %w", rel, err)
		}
		count++
	}
	for _, s := range k.rep.Sentences() {
		rec := store.SentenceRec{ID: s.ID(), Source: s.Source(), Created: s.Created()}
		if err := k.st.SaveSentence(ctx, rec); err != nil {
			return fmt.Errorf("snapshot sentence %s: %w", s.ID(), err)
		}
		count++
	}
	k.log.Debug("snapshot written", zap.Int("records", count))
	return nil
}

// Restore reloads the store's facts and sentences into the knowledge
// base. Facts load first so restored rules evaluate against them;
// sentences recompile from source in creation order, keeping rule
// precedence intact.
func (k *KB) Restore(ctx context.Context) error {
	membs, err := k.st.LoadMemberships(ctx)
	if err != nil {
		return fmt.Errorf("restore memberships: %w", err)
	}
	for _, rec := range membs {
		var m *lang.GroundedMembership
		if rec.HasVal {
			m = lang.NewMembership(rec.Subject, rec.Parent, rec.Value, lang.OpEqual, rec.At)
		} else {
			m = lang.NewBareMembership(rec.Subject, rec.Parent, rec.At)
		}
		k.rep.UpMembership(m)
	}

	rels, err := k.st.LoadRelations(ctx)
	if err != nil {
		return fmt.Errorf("restore relations: %w", err)
	}
	var errs *internalerr.ErrorList
	for _, rec := range rels {
		args := make([]lang.RelArg, len(rec.Args))
		for i, a := range rec.Args {
			args[i] = lang.RelArg{Name: a.Name, Value: a.Value, HasVal: a.HasVal}
			if a.HasVal {
				args[i].Op = lang.OpEqual
			}
		}
		rel, err := lang.NewRelation(rec.Name, args, rec.At)
		if err != nil {
			errs = internalerr.Append(errs, fmt.Errorf("restore relation %s: %w", rec.Name, err))
			continue
		}
		k.rep.UpRelation(rel)
	}

	sents, err := k.st.LoadSentences(ctx)
	if err != nil {
		return fmt.Errorf("restore sentences: %w", err)
	}
	for _, rec := range sents {
		// Recompiled beliefs get no recheck: their consequents were
		// already materialized when the snapshot was taken.
		if _, err := k.rep.Tell(ctx, rec.Source); err != nil {
			errs = internalerr.Append(errs, fmt.Errorf("restore sentence %s: %w", rec.ID, err))
		}
	}
	k.log.Debug("restore complete",
		zap.Int("memberships", len(membs)),
		zap.Int("relations", len(rels)),
		zap.Int("sentences", len(sents)))
	return errs.OrNil()
}

// Close waits for background rechecks, closes the store and flushes
// the logger.
func (k *KB) Close() error {
	k.bg.Wait()
	k.bgStop()
	err := k.st.Close()
	_ = k.log.Sync()
	return err
}
