package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"
)

const schemaDDL = `
CREATE SCHEMA IF NOT EXISTS wallet;
CREATE TABLE IF NOT EXISTS wallet.documents (
    seq        BIGSERIAL,
    collection TEXT        NOT NULL,
    id         TEXT        NOT NULL,
    body       JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_seq ON wallet.documents (collection, seq);
`

// Postgres is a Backend storing documents as jsonb rows of wallet.documents.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open *sql.DB using the "postgres" driver.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the documents table when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("migrating documents table: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, collection string, doc Document) (Document, error) {
	doc = ensureID(doc)
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
        INSERT INTO wallet.documents(collection, id, body) VALUES ($1, $2, $3::jsonb)
    `, collection, doc.ID(), string(body))
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}
	return doc, nil
}

func (p *Postgres) Read(ctx context.Context, collection, id string) (Document, error) {
	row := p.db.QueryRowContext(ctx, `SELECT body FROM wallet.documents WHERE collection=$1 AND id=$2`, collection, id)
	return scanDocument(row)
}

func (p *Postgres) ReadAll(ctx context.Context, collection string) ([]Document, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT body FROM wallet.documents WHERE collection=$1 ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	return scanDocuments(rows)
}

func (p *Postgres) Update(ctx context.Context, collection, id string, partial Document) (Document, error) {
	partial = clone(partial)
	delete(partial, IDField)
	body, err := json.Marshal(partial)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	row := p.db.QueryRowContext(ctx, `
        UPDATE wallet.documents
           SET body = body || $3::jsonb,
               updated_at = now()
         WHERE collection=$1 AND id=$2
     RETURNING body
    `, collection, id, string(body))
	return scanDocument(row)
}

func (p *Postgres) Replace(ctx context.Context, collection, id string, doc Document) (Document, error) {
	body, err := json.Marshal(replacement(id, doc))
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	row := p.db.QueryRowContext(ctx, `
        UPDATE wallet.documents
           SET body = $3::jsonb,
               updated_at = now()
         WHERE collection=$1 AND id=$2
     RETURNING body
    `, collection, id, string(body))
	return scanDocument(row)
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM wallet.documents WHERE collection=$1 AND id=$2`, collection, id)
	if err != nil {
		return false, fmt.Errorf("deleting document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Postgres) FindByField(ctx context.Context, collection, field string, value any) (Document, error) {
	row := p.db.QueryRowContext(ctx, `
        SELECT body FROM wallet.documents
         WHERE collection=$1 AND body #>> $2::text[] = $3
         ORDER BY seq LIMIT 1
    `, collection, pq.Array(fieldPath(field)), fmt.Sprint(value))
	return scanDocument(row)
}

func (p *Postgres) FindAllByField(ctx context.Context, collection, field string, value any) ([]Document, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT body FROM wallet.documents
         WHERE collection=$1 AND body #>> $2::text[] = $3
         ORDER BY seq
    `, collection, pq.Array(fieldPath(field)), fmt.Sprint(value))
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	return scanDocuments(rows)
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *Postgres) Close() error                   { return p.db.Close() }

func fieldPath(field string) []string {
	return strings.Split(strings.TrimPrefix(field, "$."), ".")
}

func scanDocument(row *sql.Row) (Document, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	out := []Document{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
