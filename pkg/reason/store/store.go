// Package store defines the persistence interface for knowledge base
// snapshots. Facts persist as plain records keyed by their natural
// identity; sentences persist as source text and recompile on restore.
package store

import (
	"context"
	"strings"
	"time"
)

// Store persists and reloads one knowledge base's contents.
type Store interface {
	Close() error

	// Facts
	SaveMembership(ctx context.Context, m MembershipRec) error
	SaveRelation(ctx context.Context, r RelationRec) error
	LoadMemberships(ctx context.Context) ([]MembershipRec, error)
	LoadRelations(ctx context.Context) ([]RelationRec, error)

	// Sentences
	SaveSentence(ctx context.Context, s SentenceRec) error
	LoadSentences(ctx context.Context) ([]SentenceRec, error)

	// Compact reclaims space held by superseded data.
	Compact(ctx context.Context) error
}

// MembershipRec is one persisted class membership fact. HasVal is
// false for bare memberships.
type MembershipRec struct {
	Subject string
	Parent  string
	Value   float64
	HasVal  bool
	At      time.Time
}

// ArgRec is one positional argument of a persisted relation.
type ArgRec struct {
	Name   string
	Value  float64
	HasVal bool
}

// RelationRec is one persisted relation instance. Identity is the
// relation name plus the argument names in order.
type RelationRec struct {
	Name string
	Args []ArgRec
	At   time.Time
}

// Ident returns the argument-name part of the relation's identity.
func (r RelationRec) Ident() string {
	names := make([]string, len(r.Args))
	for i, a := range r.Args {
		names[i] = a.Name
	}
	return strings.Join(names, ";")
}

// SentenceRec is one persisted belief or rule. Loading in Created
// order keeps rule precedence intact across a restore.
type SentenceRec struct {
	ID      string
	Source  string
	Created time.Time
}
