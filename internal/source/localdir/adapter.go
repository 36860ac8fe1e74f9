// Package localdir offers the images of a local directory tree as subjects.
package localdir

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/timmy/alttext/internal/source"
)

// ManifestFileName is the optional JSONL sidecar carrying post context per file.
const ManifestFileName = "manifest.jsonl"

// ManifestItem is one line of the manifest.
type ManifestItem struct {
	Filename   string            `json:"filename"`
	PostTitle  string            `json:"post_title"`
	Categories []string          `json:"categories"`
	Tags       []string          `json:"tags"`
	SourceURL  string            `json:"source_url"`
	Exif       map[string]string `json:"exif"`
}

// Adapter implements source.Source for a directory of images.
// Subdirectory names become categories unless the manifest says otherwise.
type Adapter struct {
	root string

	once    sync.Once
	items   []source.Item
	loadErr error
}

// NewAdapter creates an adapter rooted at root.
func NewAdapter(root string) *Adapter {
	return &Adapter{root: root}
}

// GetSourceID returns "localdir:" plus the directory base name.
func (a *Adapter) GetSourceID() string {
	return "localdir:" + filepath.Base(filepath.Clean(a.root))
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Local directory (%s)", a.root)
}

// FetchBatch pages through the directory in a stable order. The cursor is an index.
// Parameters:
//   - ctx: unused for local reads.
//   - cursor: index string, or empty for the first page.
//   - limit: maximum number of items to return.
// Returns:
//   - []source.Item: batch of items.
//   - string: next cursor or empty if no more items.
//   - error: non-nil if scanning fails or the cursor is invalid.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.Item, string, error) {
	a.once.Do(func() { a.loadErr = a.loadItems() })
	if a.loadErr != nil {
		return nil, "", fmt.Errorf("failed to scan %s: %w", a.root, a.loadErr)
	}

	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil || start < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}
	if start >= len(a.items) {
		return []source.Item{}, "", nil
	}

	end := start + limit
	if limit <= 0 || end > len(a.items) {
		end = len(a.items)
	}

	next := ""
	if end < len(a.items) {
		next = strconv.Itoa(end)
	}
	return a.items[start:end], next, nil
}

// Count returns the number of images found.
func (a *Adapter) Count() (int, error) {
	a.once.Do(func() { a.loadErr = a.loadItems() })
	return len(a.items), a.loadErr
}

func (a *Adapter) loadItems() error {
	if _, err := os.Stat(a.root); err != nil {
		return err
	}

	manifest, err := readManifest(filepath.Join(a.root, ManifestFileName))
	if err != nil {
		return err
	}

	var items []source.Item
	err = filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != a.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		format := FormatFromExt(filepath.Ext(name))
		if format == "" {
			return nil
		}

		rel, _ := filepath.Rel(a.root, path)
		rel = filepath.ToSlash(rel)
		item := source.Item{
			SourceID:  rel,
			LocalPath: path,
			Format:    format,
		}
		if dir := filepath.ToSlash(filepath.Dir(rel)); dir != "." {
			item.Categories = strings.Split(dir, "/")
		}

		if m, ok := manifest[rel]; ok {
			item.PostTitle = m.PostTitle
			item.URL = m.SourceURL
			item.Tags = m.Tags
			item.Exif = m.Exif
			if len(m.Categories) > 0 {
				item.Categories = m.Categories
			}
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].SourceID < items[j].SourceID
	})
	a.items = items
	return nil
}

// readManifest loads the sidecar keyed by slash-separated relative filename.
// A missing manifest is not an error.
func readManifest(path string) (map[string]ManifestItem, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	out := make(map[string]ManifestItem)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var item ManifestItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			// Skip malformed lines
			continue
		}
		out[filepath.ToSlash(item.Filename)] = item
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	return out, nil
}

// FormatFromExt maps a file extension to an image format name, or "".
func FormatFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".png":
		return "png"
	case ".gif":
		return "gif"
	case ".webp":
		return "webp"
	}
	return ""
}
