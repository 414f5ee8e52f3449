package logging

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	SetLevel("warn")
	if Enabled("info") {
		t.Error("info should be filtered at warn")
	}
	if !Enabled("error") {
		t.Error("error should pass at warn")
	}

	SetLevel("bogus")
	if !Enabled("info") || Enabled("debug") {
		t.Error("unknown level should behave as info")
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")

	rw, err := Setup(path)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		rw.Close()
	})
	rw.maxSize = 64

	if _, err := rw.Write([]byte(strings.Repeat("x", 100))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected backup file after rotation: %v", err)
	}
	if rw.size != 0 {
		t.Fatalf("size after rotation = %d, want 0", rw.size)
	}
}
