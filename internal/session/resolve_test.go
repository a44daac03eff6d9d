package session

import (
	"os"
	"path/filepath"
	"testing"

	sessionproto "github.com/qcp-project/qcp/internal/protocol/session"
)

func TestResolveDestinationExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	r := ResolveDestination(dir)
	if r.Status != sessionproto.StatusOk || !r.AppendFilename {
		t.Fatalf("got %+v", r)
	}
	if got := r.FinalPath("src"); got != filepath.Join(dir, "src") {
		t.Fatalf("FinalPath = %q", got)
	}
}

func TestResolveDestinationExistingFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "existing")
	if err := os.WriteFile(dest, []byte("old"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	r := ResolveDestination(dest)
	if r.Status != sessionproto.StatusOk || r.AppendFilename {
		t.Fatalf("got %+v", r)
	}
	if r.FinalPath("ignored") != dest {
		t.Fatalf("FinalPath = %q, want %q", r.FinalPath("ignored"), dest)
	}
}

func TestResolveDestinationNonexistentWritableParent(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "newfile")
	r := ResolveDestination(dest)
	if r.Status != sessionproto.StatusOk || r.AppendFilename {
		t.Fatalf("got %+v", r)
	}
	if r.FinalPath("ignored") != dest {
		t.Fatalf("FinalPath = %q", r.FinalPath("ignored"))
	}
}

func TestResolveDestinationNonexistentParent(t *testing.T) {
	r := ResolveDestination("/nope-qcp-test/notthere")
	if r.Status != sessionproto.StatusDirectoryDoesNotExist {
		t.Fatalf("got %+v, want DirectoryDoesNotExist", r)
	}
}

func TestResolveDestinationEmptyMeansCWD(t *testing.T) {
	r := ResolveDestination("")
	if r.Status != sessionproto.StatusOk || !r.AppendFilename {
		t.Fatalf("got %+v", r)
	}
	if r.Path != "." {
		t.Fatalf("Path = %q, want .", r.Path)
	}
}
