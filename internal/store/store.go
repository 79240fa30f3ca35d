package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrConflict is returned by Save when the file changed since it was loaded.
	ErrConflict = errors.New("task store changed since it was loaded")
	// ErrTaskNotFound is returned when a task id is not in the snapshot.
	ErrTaskNotFound = errors.New("task not found")
)

const todosKey = "todos"

// Store reads and writes the JSON task document at a single path.
type Store struct {
	path string
}

// New returns a store bound to path. Nothing is read until Load.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the document path.
func (s *Store) Path() string { return s.path }

// BackupPath returns where Save keeps the previous version of the document.
func (s *Store) BackupPath() string { return s.path + ".bak" }

// Create writes an empty document if none exists yet.
func (s *Store) Create() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	return writeFileAtomic(s.path, []byte("{\n  \"todos\": []\n}\n"), 0o644)
}

// Load reads the document. A missing file yields an empty snapshot; a file that
// is not a JSON object with a todos array is an error.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return newSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task store: %w", err)
	}
	snap, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse task store %s: %w", s.path, err)
	}
	snap.ETag = etag(data)
	return snap, nil
}

// Save writes snap back. It refuses with ErrConflict if the file on disk is
// no longer the one snap was loaded from. The previous document is copied to
// BackupPath first, and the new one replaces it via rename, so a failure
// leaves the original in place.
func (s *Store) Save(snap *Snapshot) error {
	current, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		current = nil
	case err != nil:
		return fmt.Errorf("read task store: %w", err)
	}
	if etag(current) != snap.ETag {
		return ErrConflict
	}

	out, err := snap.encode()
	if err != nil {
		return fmt.Errorf("encode task store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	mode := os.FileMode(0o644)
	if current != nil {
		if info, err := os.Stat(s.path); err == nil {
			mode = info.Mode().Perm()
		}
		if err := writeFileAtomic(s.BackupPath(), current, mode); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
	}
	if err := writeFileAtomic(s.path, out, mode); err != nil {
		return fmt.Errorf("write task store: %w", err)
	}
	snap.ETag = etag(out)
	return nil
}

func etag(data []byte) string {
	if data == nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path.
func writeFileAtomic(path string, data []byte, mode os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true

	// Persist the rename itself.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// member is one top-level member of the document other than todos.
type member struct {
	key   string
	value json.RawMessage
}

func decode(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object")
	}

	snap := newSnapshot()
	snap.todosAt = -1
	var todos json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("member %q: %w", key, err)
		}
		if key == todosKey {
			todos = value
			snap.todosAt = len(snap.members)
			continue
		}
		snap.members = append(snap.members, member{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after document")
	}

	if todos == nil || string(todos) == "null" {
		return snap, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(todos, &items); err != nil {
		return nil, fmt.Errorf("todos: expected an array")
	}
	for i, item := range items {
		snap.add(i, item)
	}
	return snap, nil
}

func (s *Snapshot) encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	wrote := false
	writeMember := func(key string, value []byte) {
		if wrote {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(key)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(value)
		wrote = true
	}

	todos, err := s.encodeTodos()
	if err != nil {
		return nil, err
	}
	at := s.todosAt
	if at < 0 {
		at = 0
	}
	for i, m := range s.members {
		if i == at {
			writeMember(todosKey, todos)
		}
		writeMember(m.key, m.value)
	}
	if at >= len(s.members) {
		writeMember(todosKey, todos)
	}
	buf.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (s *Snapshot) encodeTodos() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range s.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		if e.malformed != nil {
			buf.Write(e.malformed)
			continue
		}
		b, err := json.Marshal(e.task)
		if err != nil {
			return nil, fmt.Errorf("encode task %s: %w", e.task.ID, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
