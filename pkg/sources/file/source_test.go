package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/harunnryd/dgstream/pkg/errorsx"
)

func TestOpenReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFFdata"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	rc, err := New(path, nil).Open(context.Background())
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil || string(b) != "RIFFdata" {
		t.Fatalf("unexpected read %q %v", b, err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.wav"), nil).Open(context.Background())
	if !errorsx.HasReason(err, errorsx.ReasonSourceOpen) {
		t.Fatalf("expected source open reason, got %v", err)
	}
}

func TestOpenCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New("whatever.wav", nil).Open(ctx); err != context.Canceled {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
