package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestZip(t *testing.T, dest string, files map[string]string) {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := WriteZip(dest, root, WriteOptions{}); err != nil {
		t.Fatalf("WriteZip failed: %v", err)
	}
}

func TestWriteAndExtractRoundTrip(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.zip")
	writeTestZip(t, dest, map[string]string{
		"manifest.json":   `{"name":"pack"}`,
		"overrides/a.txt": "hello",
	})

	entries, err := List(dest)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	extractDir := t.TempDir()
	if err := Extract(dest, extractDir); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(extractDir, "overrides", "a.txt"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected 'hello', got %s", data)
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "evil.zip")
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "safe.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteZip(dest, root, WriteOptions{}); err != nil {
		t.Fatalf("WriteZip failed: %v", err)
	}

	if _, err := safeJoin(t.TempDir(), "../../etc/passwd"); err == nil {
		t.Error("expected safeJoin to reject a traversal path")
	}
}

func TestWriteZipHonorsExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"manifest.json":     `{"name":"pack"}`,
		"overrides/a.log":   "noisy",
		"overrides/a.txt":   "keep me",
		"saves/world/a.dat": "save data",
	}
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	dest := filepath.Join(t.TempDir(), "out.zip")
	opts := WriteOptions{ExcludeGlobs: []string{"*.log", "saves"}}
	if err := WriteZip(dest, root, opts); err != nil {
		t.Fatalf("WriteZip failed: %v", err)
	}

	entries, err := List(dest)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name] = true
	}
	if names["overrides/a.log"] {
		t.Error("expected *.log glob to exclude overrides/a.log")
	}
	if !names["overrides/a.txt"] {
		t.Error("expected overrides/a.txt to be kept")
	}
	if names["saves/world/a.dat"] {
		t.Error("expected saves directory glob to exclude its whole subtree")
	}
	if !names["manifest.json"] {
		t.Error("expected manifest.json to be kept")
	}
}

func TestReadFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.zip")
	writeTestZip(t, dest, map[string]string{"manifest.json": `{"ok":true}`})

	data, err := ReadFile(dest, "manifest.json")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("unexpected content: %s", data)
	}
}
