package localdir

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAdapter_FetchBatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "x")
	writeFile(t, filepath.Join(root, "travel", "alps", "b.png"), "x")
	writeFile(t, filepath.Join(root, "travel", "c.webp"), "x")
	writeFile(t, filepath.Join(root, "notes.txt"), "x")
	writeFile(t, filepath.Join(root, ".hidden", "d.jpg"), "x")
	writeFile(t, filepath.Join(root, ManifestFileName),
		`{"filename":"travel/c.webp","post_title":"Lisbon","categories":["cities"],"tags":["tram"]}`+"\n"+
			"not json\n")

	a := NewAdapter(root)

	first, next, err := a.FetchBatch(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("FetchBatch() error: %v", err)
	}
	if len(first) != 2 || next != "2" {
		t.Fatalf("first page = %d items, next %q", len(first), next)
	}
	rest, next, err := a.FetchBatch(context.Background(), next, 2)
	if err != nil {
		t.Fatalf("FetchBatch() error: %v", err)
	}
	if len(rest) != 1 || next != "" {
		t.Fatalf("second page = %d items, next %q", len(rest), next)
	}

	all := append(first, rest...)
	ids := []string{all[0].SourceID, all[1].SourceID, all[2].SourceID}
	if want := []string{"a.jpg", "travel/alps/b.png", "travel/c.webp"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if !reflect.DeepEqual(all[1].Categories, []string{"travel", "alps"}) {
		t.Errorf("categories from path = %v", all[1].Categories)
	}
	if all[2].PostTitle != "Lisbon" || !reflect.DeepEqual(all[2].Categories, []string{"cities"}) {
		t.Errorf("manifest not applied: %+v", all[2])
	}
	if all[2].Format != "webp" {
		t.Errorf("format = %q", all[2].Format)
	}
}

func TestAdapter_MissingRoot(t *testing.T) {
	a := NewAdapter(filepath.Join(t.TempDir(), "nope"))
	if _, _, err := a.FetchBatch(context.Background(), "", 10); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestAdapter_InvalidCursor(t *testing.T) {
	a := NewAdapter(t.TempDir())
	if _, _, err := a.FetchBatch(context.Background(), "abc", 10); err == nil {
		t.Error("expected error for invalid cursor")
	}
}
