package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/reason/pkg/reason/internalerr"
	"github.com/cognicore/reason/pkg/reason/store"
)

// sqliteStore implements store.Store on a single database file.
type sqliteStore struct {
	db *sql.DB
}

// Open opens a SQLite-backed store with WAL mode enabled, creating
// the file and schema when missing.
func Open(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS memberships (
	subject TEXT NOT NULL,
	parent TEXT NOT NULL,
	value REAL,
	at TEXT NOT NULL,
	PRIMARY KEY(subject, parent)
);

CREATE TABLE IF NOT EXISTS relations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	ident TEXT NOT NULL,
	at TEXT NOT NULL,
	UNIQUE(name, ident)
);

CREATE TABLE IF NOT EXISTS relation_args (
	relation_id INTEGER NOT NULL,
	pos INTEGER NOT NULL,
	name TEXT NOT NULL,
	value REAL,
	PRIMARY KEY(relation_id, pos),
	FOREIGN KEY(relation_id) REFERENCES relations(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS sentences (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	created TEXT NOT NULL
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveMembership inserts or updates a membership fact by its natural
// key. Bare facts store a NULL value.
func (s *sqliteStore) SaveMembership(ctx context.Context, m store.MembershipRec) error {
	const stmt = `
INSERT INTO memberships (subject, parent, value, at) VALUES (?, ?, ?, ?)
ON CONFLICT(subject, parent) DO UPDATE SET
	value=excluded.value,
	at=excluded.at;
`
	var val any
	if m.HasVal {
		val = m.Value
	}
	_, err := s.db.ExecContext(ctx, stmt, m.Subject, m.Parent, val, m.At.UTC().Format(time.RFC3339Nano))
	return err
}

// SaveRelation inserts or updates a relation instance by its natural
// key, replacing the argument rows.
func (s *sqliteStore) SaveRelation(ctx context.Context, r store.RelationRec) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const stmt = `
INSERT INTO relations (name, ident, at) VALUES (?, ?, ?)
ON CONFLICT(name, ident) DO UPDATE SET at=excluded.at
RETURNING id;
`
	var relID int64
	err = tx.QueryRowContext(ctx, stmt, r.Name, r.Ident(), r.At.UTC().Format(time.RFC3339Nano)).Scan(&relID)
	if err != nil {
		return err
	}
	if err := replaceRelationArgs(ctx, tx, relID, r.Args); err != nil {
		return err
	}

	return tx.Commit()
}

func replaceRelationArgs(ctx context.Context, tx *sql.Tx, relID int64, args []store.ArgRec) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM relation_args WHERE relation_id=?`, relID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO relation_args (relation_id, pos, name, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, a := range args {
		var val any
		if a.HasVal {
			val = a.Value
		}
		if _, err := stmt.ExecContext(ctx, relID, i, a.Name, val); err != nil {
			return err
		}
	}
	return nil
}

// SaveSentence inserts or updates a sentence by its structural id.
func (s *sqliteStore) SaveSentence(ctx context.Context, sent store.SentenceRec) error {
	const stmt = `
INSERT INTO sentences (id, source, created) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	source=excluded.source,
	created=excluded.created;
`
	_, err := s.db.ExecContext(ctx, stmt, sent.ID, sent.Source, sent.Created.UTC().Format(time.RFC3339Nano))
	return err
}

// LoadMemberships returns every stored membership fact, ordered by
// subject then parent.
func (s *sqliteStore) LoadMemberships(ctx context.Context) ([]store.MembershipRec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subject, parent, value, at FROM memberships ORDER BY subject, parent`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.MembershipRec
	for rows.Next() {
		var (
			m   store.MembershipRec
			val sql.NullFloat64
			at  string
		)
		if err := rows.Scan(&m.Subject, &m.Parent, &val, &at); err != nil {
			return nil, err
		}
		m.Value, m.HasVal = val.Float64, val.Valid
		if m.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadRelations returns every stored relation instance with its
// arguments in position order.
func (s *sqliteStore) LoadRelations(ctx context.Context) ([]store.RelationRec, error) {
	const q = `
SELECT r.id, r.name, r.at, a.name, a.value
FROM relations r JOIN relation_args a ON a.relation_id = r.id
ORDER BY r.name, r.ident, a.pos;
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out   []store.RelationRec
		cur   store.RelationRec
		curID int64 = -1
	)
	for rows.Next() {
		var (
			id      int64
			name    string
			at      string
			argName string
			val     sql.NullFloat64
		)
		if err := rows.Scan(&id, &name, &at, &argName, &val); err != nil {
			return nil, err
		}
		if id != curID {
			if curID >= 0 {
				out = append(out, cur)
			}
			t, err := time.Parse(time.RFC3339Nano, at)
			if err != nil {
				return nil, err
			}
			cur = store.RelationRec{Name: name, At: t}
			curID = id
		}
		cur.Args = append(cur.Args, store.ArgRec{Name: argName, Value: val.Float64, HasVal: val.Valid})
	}
	if curID >= 0 {
		out = append(out, cur)
	}
	return out, rows.Err()
}

// LoadSentences returns every stored sentence in creation order, so a
// restore replays rules with their precedence intact.
func (s *sqliteStore) LoadSentences(ctx context.Context) ([]store.SentenceRec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source, created FROM sentences ORDER BY created, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SentenceRec
	for rows.Next() {
		var (
			sent store.SentenceRec
			at   string
		)
		if err := rows.Scan(&sent.ID, &sent.Source, &at); err != nil {
			return nil, err
		}
		if sent.Created, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, err
		}
		out = append(out, sent)
	}
	return out, rows.Err()
}

// Compact reclaims file space. Upserts keep one row per logical fact,
// so there are no superseded rows to drop.
func (s *sqliteStore) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}
