package paths

import (
	"path/filepath"
	"testing"
)

func TestResolveWithOverrideAgreesAcrossFiles(t *testing.T) {
	root := t.TempDir()
	layout, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if layout.Root != root {
		t.Errorf("Root = %q, want %q", layout.Root, root)
	}

	for _, p := range []string{layout.MetadataDBFile, layout.VectorDBFile, layout.CredentialsFile, layout.SettingsFile} {
		if rel, err := filepath.Rel(root, p); err != nil || filepath.IsAbs(rel) {
			t.Errorf("path %q is not rooted at %q", p, root)
		}
	}

	if layout.MetadataDBFile == layout.VectorDBFile {
		t.Error("metadata and vector db files must not collide")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	root := t.TempDir()
	first, err := Resolve(root)
	if err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	second, err := Resolve(root)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if first != second {
		t.Errorf("Resolve(%q) is not stable across calls: %+v != %+v", root, first, second)
	}
}
