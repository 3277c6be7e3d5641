package credentials

import (
	"encoding/json"
	"os"
	"sync"
)

type fsDocument struct {
	Values map[string]string `json:"values"`
}

// FileStore persists credentials as a JSON document on disk.
// An unreadable or corrupt file reads as empty.
type FileStore struct {
	Path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Read(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return "", false
	}
	v, ok := doc.Values[key]
	return v, ok
}

func (f *FileStore) Write(key, value string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		doc = &fsDocument{}
	}
	if doc.Values == nil {
		doc.Values = make(map[string]string)
	}
	doc.Values[key] = value
	return f.save(doc) == nil
}

func (f *FileStore) Remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return
	}
	if _, ok := doc.Values[key]; !ok {
		return
	}
	delete(doc.Values, key)
	_ = f.save(doc)
}

func (f *FileStore) load() (*fsDocument, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var doc fsDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (f *FileStore) save(doc *fsDocument) error {
	if err := EnsureParentDir(f.Path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0600)
}
