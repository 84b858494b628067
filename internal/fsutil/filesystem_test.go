package fsutil

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
)

func TestMemoryFileSystem(t *testing.T) {
	m := NewMemoryFileSystem()

	if err := m.MkdirAll("out/plots", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if !m.Exists("out") || !m.Exists("out/plots") {
		t.Error("expected directories to exist")
	}

	w, err := m.Create("out/plots/track_1.png")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("png")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := m.ReadFile("out/plots/../plots/track_1.png")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "png" {
		t.Errorf("ReadFile = %q, want %q", data, "png")
	}
	if _, err := m.ReadFile("missing"); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := m.Create("out"); err == nil {
		t.Error("expected error creating over a directory")
	}
}

func TestWriteArtifact(t *testing.T) {
	tests := []struct {
		name string
		fsys func(t *testing.T) (FileSystem, string)
	}{
		{
			name: "memory",
			fsys: func(t *testing.T) (FileSystem, string) { return NewMemoryFileSystem(), "reports/a/summary.txt" },
		},
		{
			name: "os",
			fsys: func(t *testing.T) (FileSystem, string) {
				return OSFileSystem{}, filepath.Join(t.TempDir(), "reports", "a", "summary.txt")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys, path := tt.fsys(t)
			err := WriteArtifact(fsys, path, func(w io.Writer) error {
				_, err := io.WriteString(w, "hello")
				return err
			})
			if err != nil {
				t.Fatalf("WriteArtifact: %v", err)
			}
			if !fsys.Exists(filepath.Dir(path)) {
				t.Error("parent directory not created")
			}
			data, err := fsys.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if string(data) != "hello" {
				t.Errorf("contents = %q, want hello", data)
			}
		})
	}
}

func TestWriteArtifact_WriterError(t *testing.T) {
	m := NewMemoryFileSystem()
	boom := errors.New("boom")
	err := WriteArtifact(m, "x.bin", func(io.Writer) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping boom", err)
	}
	if got := m.Files(); len(got) != 1 || got[0] != "x.bin" {
		t.Errorf("Files() = %v", got)
	}
}
