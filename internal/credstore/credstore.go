// Package credstore persists saved logins as a single owner-only JSON
// document keyed by chat id. Every operation degrades to a no-op on I/O
// failure; callers must not assume a write landed.
package credstore

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"vikabot/internal/domain"
)

type Store struct {
	Path string
}

func New(path string) *Store {
	return &Store{Path: path}
}

// Load reads the whole document. A missing, unreadable, or corrupt file
// means "no saved credentials", never an error.
func (s *Store) Load() map[string]domain.CredentialRecord {
	creds := map[string]domain.CredentialRecord{}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("credstore: read %s: %v", s.Path, err)
		}
		return creds
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		log.Printf("credstore: invalid JSON in %s: %v", s.Path, err)
		return map[string]domain.CredentialRecord{}
	}
	return creds
}

// Save merges one record into the document and rewrites it. Overwrites any
// prior record for the chat.
func (s *Store) Save(chatID, username, password string) {
	creds := s.Load()
	creds[chatID] = domain.CredentialRecord{Username: username, Password: password}
	if err := s.write(creds); err != nil {
		log.Printf("credstore: save %s: %v", s.Path, err)
	}
}

// Delete removes a chat's record. Deleting the last record removes the file
// itself; otherwise the trimmed document is rewritten.
func (s *Store) Delete(chatID string) {
	creds := s.Load()
	if _, ok := creds[chatID]; !ok {
		return
	}
	delete(creds, chatID)
	if len(creds) == 0 {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			log.Printf("credstore: remove %s: %v", s.Path, err)
		}
		return
	}
	if err := s.write(creds); err != nil {
		log.Printf("credstore: rewrite %s: %v", s.Path, err)
	}
}

// write lands the document via a uuid-suffixed temp file and rename, so a
// crash mid-write never leaves a partial document behind.
func (s *Store) write(creds map[string]domain.CredentialRecord) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	tmp := s.Path + "." + uuid.New().String() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return err
	}
	// rename preserves the temp file's mode, but re-assert in case the
	// document predates this process with looser permissions
	return os.Chmod(s.Path, 0o600)
}
