// Package store defines the document persistence backend of the wallet and its
// implementations: in-memory, flat JSON files and Postgres.
//
// A backend is a document store keyed by collection and string id. It performs no
// joins or transactions; callers join through FindByField / FindAllByField.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/google/uuid"
)

var (
	ErrNotFound = fmt.Errorf("not found")
	ErrConflict = fmt.Errorf("conflict")
)

// IDField is the document key holding the document id.
const IDField = "id"

// Document is a JSON object.
type Document map[string]any

// ID returns the document id, or "" when it has none.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Backend is the persistence contract consumed by the wallet ledger.
type Backend interface {
	// Create stores doc, assigning a new id when doc has none, and returns the stored copy.
	Create(ctx context.Context, collection string, doc Document) (Document, error)
	// Read returns the document or ErrNotFound.
	Read(ctx context.Context, collection, id string) (Document, error)
	// ReadAll returns all documents of collection in insertion order.
	ReadAll(ctx context.Context, collection string) ([]Document, error)
	// Update merges partial into the stored document and returns the result, or ErrNotFound.
	Update(ctx context.Context, collection, id string, partial Document) (Document, error)
	// Replace swaps the whole stored document for doc, keeping its id and its
	// position in ReadAll, or returns ErrNotFound. Fields absent from doc are gone.
	Replace(ctx context.Context, collection, id string, doc Document) (Document, error)
	// Delete removes the document and reports whether it existed.
	Delete(ctx context.Context, collection, id string) (bool, error)
	// FindByField returns the first document whose field equals value, or ErrNotFound.
	// field may be a dotted path such as "settings.onlinePayments".
	FindByField(ctx context.Context, collection, field string, value any) (Document, error)
	// FindAllByField returns all documents whose field equals value.
	FindAllByField(ctx context.Context, collection, field string, value any) ([]Document, error)
	Ping(ctx context.Context) error
	Close() error
}

// Encode converts a JSON-serializable value into a Document.
func Encode(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return doc, nil
}

// Decode converts a Document into v.
func Decode(doc Document, v any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}

func clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out, err := Encode(doc)
	if err != nil {
		// documents only ever hold decoded JSON values
		panic(err)
	}
	return out
}

func ensureID(doc Document) Document {
	doc = clone(doc)
	if doc == nil {
		doc = Document{}
	}
	if doc.ID() == "" {
		doc[IDField] = uuid.New().String()
	}
	return doc
}

// replacement is doc stored under id.
func replacement(id string, doc Document) Document {
	out := clone(doc)
	if out == nil {
		out = Document{}
	}
	out[IDField] = id
	return out
}

func merge(dst, partial Document) Document {
	out := clone(dst)
	for k, v := range clone(partial) {
		if k == IDField {
			continue
		}
		out[k] = v
	}
	return out
}

// fieldValue resolves a dotted field path in doc.
func fieldValue(doc Document, field string) (any, bool) {
	v, err := jsonpath.Get("$."+strings.TrimPrefix(field, "$."), map[string]any(doc))
	if err != nil {
		return nil, false
	}
	return v, true
}

// matches compares a stored JSON value with a lookup value by their textual form,
// so 100 matches "100" and true matches "true".
func matches(doc Document, field string, value any) bool {
	v, ok := fieldValue(doc, field)
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(value)
}
