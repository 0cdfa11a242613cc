package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cognicore/reason/pkg/reason/store"
)

// Store is an in-memory implementation of store.Store, the default
// backend and the test double.
type Store struct {
	mu          sync.RWMutex
	memberships map[string]store.MembershipRec
	relations   map[string]store.RelationRec
	sentences   map[string]store.SentenceRec
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		memberships: make(map[string]store.MembershipRec),
		relations:   make(map[string]store.RelationRec),
		sentences:   make(map[string]store.SentenceRec),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Compact implements store.Store. Upserts keep one record per logical
// fact already, so there is nothing to drop.
func (s *Store) Compact(ctx context.Context) error { return nil }

// SaveMembership inserts or replaces a membership fact, keyed by
// subject and parent class.
func (s *Store) SaveMembership(ctx context.Context, m store.MembershipRec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[m.Subject+"\x00"+m.Parent] = m
	return nil
}

// SaveRelation inserts or replaces a relation instance, keyed by name
// and argument names.
func (s *Store) SaveRelation(ctx context.Context, r store.RelationRec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations[r.Name+"\x00"+r.Ident()] = copyRelation(r)
	return nil
}

// SaveSentence inserts or replaces a sentence by its structural id.
func (s *Store) SaveSentence(ctx context.Context, sent store.SentenceRec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentences[sent.ID] = sent
	return nil
}

// LoadMemberships returns every stored membership fact, ordered by
// subject then parent.
func (s *Store) LoadMemberships(ctx context.Context) ([]store.MembershipRec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.MembershipRec, 0, len(s.memberships))
	for _, m := range s.memberships {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Parent < out[j].Parent
	})
	return out, nil
}

// LoadRelations returns every stored relation instance, ordered by
// name then identity.
func (s *Store) LoadRelations(ctx context.Context) ([]store.RelationRec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.RelationRec, 0, len(s.relations))
	for _, r := range s.relations {
		out = append(out, copyRelation(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Ident() < out[j].Ident()
	})
	return out, nil
}

// LoadSentences returns every stored sentence in creation order.
func (s *Store) LoadSentences(ctx context.Context) ([]store.SentenceRec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.SentenceRec, 0, len(s.sentences))
	for _, sent := range s.sentences {
		out = append(out, sent)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func copyRelation(r store.RelationRec) store.RelationRec {
	r.Args = append([]store.ArgRec(nil), r.Args...)
	return r
}
