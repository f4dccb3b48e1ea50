package restore

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// FileStore persists restoration blobs to a single JSON document on
// disk, load-modify-store under a mutex — the same pattern
// rigado-ble's linux/hci/bond manager uses for bond persistence, with
// opaque per-manager blobs instead of a fixed bond-record schema.
type FileStore struct {
	mu   sync.Mutex
	path string
}

type fileDocument struct {
	Entries map[string]string `json:"entries"` // id -> blob held as a JSON string; bytes that are not valid UTF-8 do not survive the round trip
}

// NewFileStore opens (creating if necessary) a JSON restoration file
// at path.
func NewFileStore(path string) (*FileStore, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(`{"entries":{}}`), 0644); err != nil {
			return nil, errors.Wrap(err, "restore: creating store file")
		}
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) load() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "restore: reading store file")
	}
	doc := &fileDocument{Entries: make(map[string]string)}
	if len(data) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, errors.Wrap(err, "restore: parsing store file")
		}
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]string)
	}
	return doc, nil
}

func (s *FileStore) store(doc *fileDocument) error {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "restore: marshaling store file")
	}
	if err := os.WriteFile(s.path, out, 0644); err != nil {
		return errors.Wrap(err, "restore: writing store file")
	}
	return nil
}

func (s *FileStore) Save(id string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Entries[id] = string(blob)
	return s.store(doc)
}

func (s *FileStore) Load(id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, false, err
	}
	blob, ok := doc.Entries[id]
	if !ok {
		return nil, false, nil
	}
	return []byte(blob), true, nil
}
