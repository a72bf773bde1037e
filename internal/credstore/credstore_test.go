package credstore

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "credentials.json"))
}

func TestSaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	s.Save("7", "alice", "hunter2")
	s.Save("8", "bob", "secret")

	creds := s.Load()
	if len(creds) != 2 {
		t.Fatalf("records = %d, want 2", len(creds))
	}
	if creds["7"].Username != "alice" || creds["7"].Password != "hunter2" {
		t.Fatalf("record 7 = %+v", creds["7"])
	}

	// saving again overwrites
	s.Save("7", "alice", "newpass")
	if got := s.Load()["7"].Password; got != "newpass" {
		t.Fatalf("password = %q, want newpass", got)
	}
}

func TestFileIsOwnerOnly(t *testing.T) {
	s := newTestStore(t)
	s.Save("7", "alice", "hunter2")

	info, err := os.Stat(s.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("mode = %o, want 600", perm)
	}
}

func TestDeleteOneOfSeveralRewrites(t *testing.T) {
	s := newTestStore(t)
	s.Save("7", "alice", "hunter2")
	s.Save("8", "bob", "secret")

	s.Delete("7")
	creds := s.Load()
	if _, ok := creds["7"]; ok {
		t.Fatal("record 7 survived delete")
	}
	if creds["8"].Username != "bob" {
		t.Fatalf("record 8 = %+v", creds["8"])
	}
	if _, err := os.Stat(s.Path); err != nil {
		t.Fatalf("file should remain: %v", err)
	}
}

func TestDeleteLastRemovesFile(t *testing.T) {
	s := newTestStore(t)
	s.Save("7", "alice", "hunter2")

	s.Delete("7")
	if _, err := os.Stat(s.Path); !os.IsNotExist(err) {
		t.Fatalf("file should be gone, stat err = %v", err)
	}
}

func TestDeleteMissingIsNoOp(t *testing.T) {
	s := newTestStore(t)
	s.Delete("7")
	if len(s.Load()) != 0 {
		t.Fatal("unexpected records")
	}
}

func TestLoadCorruptFileYieldsEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := s.Load(); len(got) != 0 {
		t.Fatalf("load = %v, want empty", got)
	}
}

func TestLoadMissingFileYieldsEmpty(t *testing.T) {
	s := newTestStore(t)
	if got := s.Load(); len(got) != 0 {
		t.Fatalf("load = %v, want empty", got)
	}
}
