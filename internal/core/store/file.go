package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const pagesKey = "pages"

// FileStore keeps credentials in a JSON document of the form
// {"pages": {"<id>": "<credential>"}}. Other top-level keys are preserved.
// The document is read on first access and rewritten atomically on every change.
type FileStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	pages  map[string]string
	other  map[string]json.RawMessage
}

// NewFileStore returns a store backed by the document at path.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("tokens file path is required")
	}
	return &FileStore{path: filepath.Clean(path)}, nil
}

// Path returns the backing document path.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) GetCredential(_ context.Context, resourceID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(); err != nil {
		return "", false, err
	}
	credential, ok := f.pages[strings.TrimSpace(resourceID)]
	return credential, ok && credential != "", nil
}

func (f *FileStore) PutCredentials(_ context.Context, credentials map[string]string) error {
	if len(credentials) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(); err != nil {
		return err
	}
	next := copyPages(f.pages)
	for id, credential := range credentials {
		id = strings.TrimSpace(id)
		if id == "" || credential == "" {
			continue
		}
		next[id] = credential
	}
	return f.saveLocked(next)
}

func (f *FileStore) ListCredentials(ctx context.Context) (map[string]string, error) {
	return f.QueryCredentials(ctx, CredentialQuery{All: true})
}

func (f *FileStore) QueryCredentials(_ context.Context, q CredentialQuery) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(); err != nil {
		return nil, err
	}
	return filterCredentials(f.pages, q)
}

func (f *FileStore) ForgetCredentials(_ context.Context, q CredentialQuery) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(); err != nil {
		return 0, err
	}
	selected, err := filterCredentials(f.pages, q)
	if err != nil {
		return 0, err
	}
	if len(selected) == 0 {
		return 0, nil
	}
	next := copyPages(f.pages)
	for id := range selected {
		delete(next, id)
	}
	if err := f.saveLocked(next); err != nil {
		return 0, err
	}
	return int64(len(selected)), nil
}

// Ping loads the document, surfacing read and parse failures.
func (f *FileStore) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

// Close is a no-op; every change is already on disk.
func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) loadLocked() error {
	if f.loaded {
		return nil
	}
	f.pages = make(map[string]string)
	f.other = make(map[string]json.RawMessage)

	// #nosec G304 -- path comes from operator configuration
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read tokens file: %w", err)
	}

	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &f.other); err != nil {
			return fmt.Errorf("parse tokens file: %w", err)
		}
		if f.other == nil {
			f.other = make(map[string]json.RawMessage)
		}
		if raw, ok := f.other[pagesKey]; ok && len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &f.pages); err != nil {
				return fmt.Errorf("parse tokens file pages: %w", err)
			}
		}
		if f.pages == nil {
			f.pages = make(map[string]string)
		}
	}

	f.loaded = true
	return nil
}

// saveLocked writes pages to disk and adopts them only once the rename succeeded.
func (f *FileStore) saveLocked(pages map[string]string) error {
	encoded, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	doc := make(map[string]json.RawMessage, len(f.other)+1)
	for key, raw := range f.other {
		doc[key] = raw
	}
	doc[pagesKey] = encoded

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tokens file: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := ensureStoreDir(f.path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("create temp tokens file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp tokens file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp tokens file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp tokens file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp tokens file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace tokens file: %w", err)
	}
	f.pages = pages
	f.other = doc
	return nil
}

func copyPages(pages map[string]string) map[string]string {
	out := make(map[string]string, len(pages))
	for id, credential := range pages {
		out[id] = credential
	}
	return out
}
