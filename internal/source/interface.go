package source

import "context"

// Item is one image offered by a source, with whatever post context the
// source knows about.
type Item struct {
	SourceID   string // Unique ID within the source
	LocalPath  string // Local file path (if available)
	URL        string // Original URL, informational
	Format     string // File format (jpeg, png, gif, webp)
	PostTitle  string
	Categories []string
	Tags       []string
	Exif       map[string]string
}

// Source defines the interface for subject image sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	// Parameters: none.
	// Returns:
	//   - string: display-friendly source name.
	GetDisplayName() string

	// FetchBatch fetches a batch of items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []Item, nextCursor string, err error)
}
