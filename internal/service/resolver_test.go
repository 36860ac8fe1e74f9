package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/timmy/alttext/internal/config"
	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/storage"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}
	return buf.Bytes()
}

// unreachableStore fails every download as a dropped connection would.
type unreachableStore struct {
	storage.ObjectStorage
}

func (unreachableStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("read tcp 10.0.0.2:443: connection reset by peer")
}

func TestSubjectResolver(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewLocalStorage(root, "https://cdn.example.com/media")
	if err != nil {
		t.Fatalf("NewLocalStorage() error: %v", err)
	}
	ctx := context.Background()
	img := pngBytes(t, 3, 2)
	if err := store.Upload(ctx, "ab/img.png", bytes.NewReader(img), int64(len(img)), "image/png"); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	text := []byte("not an image at all")
	if err := store.Upload(ctx, "ab/notes.png", bytes.NewReader(text), int64(len(text)), "image/png"); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	subjects := newMemSubjects()
	subjects.subjects["s1"] = &domain.Subject{
		ID: "s1", StorageKey: "ab/img.png", PostTitle: "Harbor at dawn",
		Categories: domain.StringArray{"travel"}, Tags: domain.StringArray{"boats"},
		Exif: domain.StringMap{"camera": "X100V"},
	}
	subjects.subjects["s2"] = &domain.Subject{ID: "s2", StorageKey: "ab/notes.png"}
	subjects.subjects["s3"] = &domain.Subject{ID: "s3", StorageKey: "ab/gone.png"}

	r := NewSubjectResolver(subjects, store, config.SiteConfig{Name: "Field Notes", Description: "A travel blog"})

	t.Run("image", func(t *testing.T) {
		got, err := r.GetImage(ctx, "s1")
		if err != nil {
			t.Fatalf("GetImage() error: %v", err)
		}
		if got.MIMEType != "image/png" || got.Width != 3 || got.Height != 2 {
			t.Errorf("image = %s %dx%d", got.MIMEType, got.Width, got.Height)
		}
		if !bytes.Equal(got.Data, img) {
			t.Error("image bytes differ")
		}
		if !strings.HasPrefix(got.URL, "https://cdn.example.com/media/") {
			t.Errorf("url = %q", got.URL)
		}
	})

	t.Run("context", func(t *testing.T) {
		got, err := r.GetContext(ctx, "s1")
		if err != nil {
			t.Fatalf("GetContext() error: %v", err)
		}
		if got.SiteName != "Field Notes" || got.PostTitle != "Harbor at dawn" || got.Exif["camera"] != "X100V" {
			t.Errorf("context = %+v", got)
		}
	})

	t.Run("non-image payload", func(t *testing.T) {
		if _, err := r.GetImage(ctx, "s2"); err == nil || !strings.Contains(err.Error(), "not an image") {
			t.Errorf("error = %v, want not an image", err)
		}
	})

	t.Run("missing object", func(t *testing.T) {
		_, err := r.GetImage(ctx, "s3")
		if !errors.Is(err, storage.ErrObjectNotFound) {
			t.Errorf("error = %v, want ErrObjectNotFound", err)
		}
		if errors.Is(err, domain.ErrStorageUnavailable) {
			t.Error("missing object must not be reported as a storage outage")
		}
	})

	t.Run("store unreachable", func(t *testing.T) {
		broken := NewSubjectResolver(subjects, unreachableStore{store}, config.SiteConfig{})
		if _, err := broken.GetImage(ctx, "s1"); !errors.Is(err, domain.ErrStorageUnavailable) {
			t.Errorf("error = %v, want ErrStorageUnavailable", err)
		}
	})

	t.Run("unknown subject", func(t *testing.T) {
		if _, err := r.GetImage(ctx, "nope"); !errors.Is(err, domain.ErrSubjectNotFound) {
			t.Errorf("error = %v, want ErrSubjectNotFound", err)
		}
	})

	if _, err := os.Stat(filepath.Join(root, "ab", "img.png")); err != nil {
		t.Errorf("object not stored under root: %v", err)
	}
}
