package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestStore_Exists(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(root)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	full := filepath.Join(root, "a", "full.txt")
	empty := filepath.Join(root, "a", "empty.txt")
	writeFile(t, full, []byte("x"))
	writeFile(t, empty, nil)

	if !s.Exists(full) {
		t.Error("Expected non-empty file to exist")
	}
	if s.Exists(empty) {
		t.Error("Zero-length file must be treated as a cache miss")
	}
	if s.Exists(filepath.Join(root, "missing")) {
		t.Error("Missing file reported as present")
	}
	if s.Exists(filepath.Join(root, "a")) {
		t.Error("Directory reported as a cached file")
	}
}

func TestStore_EnsureParentDirs(t *testing.T) {
	root := t.TempDir()
	s, _ := NewStore(root)
	path := filepath.Join(root, "x", "y", "z", "file.gz")

	for i := 0; i < 2; i++ {
		if err := s.EnsureParentDirs(path); err != nil {
			t.Fatalf("EnsureParentDirs (%d) failed: %v", i, err)
		}
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Errorf("parent directory not created: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("EnsureParentDirs must not create the file itself")
	}
}

func TestStore_CatalogAndClear(t *testing.T) {
	root := t.TempDir()
	s, _ := NewStore(root)
	idx := filepath.Join(root, "idxfiles")

	writeFile(t, filepath.Join(idx, "2020", "QTR2", "master.gz"), []byte("b"))
	writeFile(t, filepath.Join(idx, "2019", "QTR4", "master.gz"), []byte("a"))
	writeFile(t, filepath.Join(idx, "2020", "QTR1", "notes.txt"), []byte("c"))

	files, err := s.Catalog(idx, ".gz")
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d: %v", len(files), files)
	}
	if filepath.Base(filepath.Dir(files[0])) != "QTR4" {
		t.Errorf("Expected sorted catalog, got %v", files)
	}

	all, _ := s.Catalog(idx, "")
	if len(all) != 3 {
		t.Errorf("Expected 3 files without suffix filter, got %d", len(all))
	}

	missing, err := s.Catalog(filepath.Join(root, "nope"), ".gz")
	if err != nil || len(missing) != 0 {
		t.Errorf("Catalog of missing dir = %v, %v; want empty, nil", missing, err)
	}

	n, err := s.Clear(idx, ".gz")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Clear removed %d files, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(idx, "2019")); !os.IsNotExist(err) {
		t.Error("Expected empty year directory to be pruned")
	}
	if _, err := os.Stat(filepath.Join(idx, "2020", "QTR1", "notes.txt")); err != nil {
		t.Error("Clear removed a file not matching the suffix")
	}
}

func TestStore_Rel(t *testing.T) {
	root := t.TempDir()
	s, _ := NewStore(root)

	rel, err := s.Rel(filepath.Join(s.Root(), "headerfiles", "1", "a.hdr.sgml"))
	if err != nil {
		t.Fatalf("Rel failed: %v", err)
	}
	if rel != "headerfiles/1/a.hdr.sgml" {
		t.Errorf("Rel = %q", rel)
	}
	if _, err := s.Rel(filepath.Dir(s.Root())); err == nil {
		t.Error("Expected error for path outside root")
	}
}

func TestStore_ReadTextLatin1(t *testing.T) {
	root := t.TempDir()
	s, _ := NewStore(root)
	path := filepath.Join(root, "h.sgml")
	// "Société" in ISO-8859-1.
	writeFile(t, path, []byte{'S', 'o', 'c', 'i', 0xE9, 't', 0xE9})

	text, err := s.ReadText(path)
	if err != nil {
		t.Fatalf("ReadText failed: %v", err)
	}
	if text != "Société" {
		t.Errorf("ReadText = %q", text)
	}
}
