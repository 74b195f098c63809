package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// JSONFile is a Backend storing every collection as a JSON array in
// <dir>/<collection>.json. Each write rewrites the file through a temporary file
// and a rename, so a crash leaves either the old or the new content.
type JSONFile struct {
	dir string
	mu  sync.Mutex
}

// NewJSONFile creates dir when missing.
func NewJSONFile(dir string) (*JSONFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &JSONFile{dir: dir}, nil
}

func (s *JSONFile) path(collection string) (string, error) {
	if !collectionName.MatchString(collection) {
		return "", fmt.Errorf("invalid collection name %q", collection)
	}
	return filepath.Join(s.dir, collection+".json"), nil
}

func (s *JSONFile) load(collection string) ([]Document, error) {
	p, err := s.path(collection)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	var docs []Document
	if len(b) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(b, &docs); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", p, err)
	}
	return docs, nil
}

func (s *JSONFile) save(collection string, docs []Document) error {
	p, err := s.path(collection)
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []Document{}
	}
	b, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", p, err)
	}
	tmp, err := os.CreateTemp(s.dir, collection+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", p, err)
	}
	return nil
}

func (s *JSONFile) Create(_ context.Context, collection string, doc Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return nil, err
	}
	doc = ensureID(doc)
	for _, d := range docs {
		if d.ID() == doc.ID() {
			return nil, ErrConflict
		}
	}
	if err := s.save(collection, append(docs, doc)); err != nil {
		return nil, err
	}
	return clone(doc), nil
}

func (s *JSONFile) Read(_ context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.ID() == id {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

func (s *JSONFile) ReadAll(_ context.Context, collection string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

func (s *JSONFile) Update(_ context.Context, collection, id string, partial Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return nil, err
	}
	for i, d := range docs {
		if d.ID() != id {
			continue
		}
		docs[i] = merge(d, partial)
		if err := s.save(collection, docs); err != nil {
			return nil, err
		}
		return clone(docs[i]), nil
	}
	return nil, ErrNotFound
}

func (s *JSONFile) Replace(_ context.Context, collection, id string, doc Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return nil, err
	}
	for i, d := range docs {
		if d.ID() != id {
			continue
		}
		docs[i] = replacement(id, doc)
		if err := s.save(collection, docs); err != nil {
			return nil, err
		}
		return clone(docs[i]), nil
	}
	return nil, ErrNotFound
}

func (s *JSONFile) Delete(_ context.Context, collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return false, err
	}
	for i, d := range docs {
		if d.ID() != id {
			continue
		}
		if err := s.save(collection, append(docs[:i:i], docs[i+1:]...)); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *JSONFile) FindByField(ctx context.Context, collection, field string, value any) (Document, error) {
	docs, err := s.FindAllByField(ctx, collection, field, value)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (s *JSONFile) FindAllByField(_ context.Context, collection, field string, value any) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load(collection)
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, d := range docs {
		if matches(d, field, value) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *JSONFile) Ping(context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

func (s *JSONFile) Close() error { return nil }
