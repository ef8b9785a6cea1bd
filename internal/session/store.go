package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/allaspectsdev/screenman/internal/apperr"
)

// Store persists sessions as one indented JSON file per id.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. The directory is created lazily on
// first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory session documents are stored in.
func (s *Store) Dir() string {
	return s.dir
}

// Load returns the session for id. Missing and corrupt files both report
// absent; other I/O failures surface as storage errors.
func (s *Store) Load(id string) (*Session, bool, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, apperr.Wrap(apperr.KindStorage, "reading session "+id, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false, nil
	}
	return &sess, true, nil
}

// Save writes the session to a temp file and renames it into place.
func (s *Store) Save(sess *Session) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindStorage, "creating session dir", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "encoding session "+sess.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "creating temp session file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return apperr.Wrap(apperr.KindStorage, "writing session "+sess.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return apperr.Wrap(apperr.KindStorage, "closing temp session file", err)
	}
	if err := os.Rename(tmp.Name(), s.path(sess.ID)); err != nil {
		os.Remove(tmp.Name())
		return apperr.Wrap(apperr.KindStorage, "publishing session "+sess.ID, err)
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, sanitizeID(id)+".json")
}

// sanitizeID keeps ids filesystem-safe. Session ids are UUIDs, so this only
// bites on hand-crafted input.
func sanitizeID(id string) string {
	if id == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, id)
}
