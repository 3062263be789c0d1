package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dchest/safefile"
)

// File implements expect.KV as a single JSON document of namespace -> key -> value.
// Every Apply rewrites the document through a temp file that is renamed into place,
// so a crash never leaves a half-written record behind.
type File struct {
	mu   sync.Mutex
	path string
}

func New(path string) (*File, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty file store path")
	}
	return &File{path: filepath.Clean(p)}, nil
}

func (f *File) EnsureSchema(context.Context) error {
	return os.MkdirAll(filepath.Dir(f.path), 0o750)
}

func (f *File) Close() error { return nil }

func (f *File) Load(_ context.Context, ns string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(doc[ns]))
	for k, v := range doc[ns] {
		out[k] = v
	}
	return out, nil
}

func (f *File) Apply(_ context.Context, ns string, put map[string]string, del []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	rec := doc[ns]
	if rec == nil {
		rec = make(map[string]string)
		doc[ns] = rec
	}
	for k, v := range put {
		rec[k] = v
	}
	for _, k := range del {
		delete(rec, k)
	}
	return f.write(doc)
}

func (f *File) read() (map[string]map[string]string, error) {
	doc := make(map[string]map[string]string)
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *File) write(doc map[string]map[string]string) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	out, err := safefile.Create(f.path, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", f.path, err)
	}
	defer func() { _ = out.Close() }()
	if _, err := out.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return out.Commit()
}
