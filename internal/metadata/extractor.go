package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
)

// Audiobook represents the metadata extracted from a single audio file.
// Fields left at their zero value were missing from the file's tags.
type Audiobook struct {
	Title       string
	Author      string
	Narrator    string
	Description string
	Duration    time.Duration
	CoverArt    []byte
	CoverMIME   string
}

// Extractor extracts audiobook metadata from a file on disk
type Extractor interface {
	Extract(ctx context.Context, path string) (*Audiobook, error)
}

// TagExtractor reads embedded tags with the dhowden/tag library and
// optionally probes duration with ffprobe when it is installed.
type TagExtractor struct {
	ProbeDuration bool
}

// NewTagExtractor creates an extractor that probes duration when ffprobe
// is available on the system.
func NewTagExtractor() *TagExtractor {
	return &TagExtractor{ProbeDuration: true}
}

// Extract reads metadata from the audio file at path. Files with no
// readable tags still produce a result with a filename-derived title.
func (e *TagExtractor) Extract(ctx context.Context, path string) (*Audiobook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	book := &Audiobook{}

	meta, err := tag.ReadFrom(file)
	if err != nil {
		// Unreadable or absent tags are not fatal. Fall back to the
		// filename so the book is still usable in the library.
		book.Title = titleFromPath(path)
	} else {
		book.Title = meta.Title()
		book.Author = meta.Artist()
		if book.Author == "" {
			book.Author = meta.AlbumArtist()
		}
		// Audiobook rippers conventionally store the narrator in the
		// composer tag.
		book.Narrator = meta.Composer()
		book.Description = meta.Comment()

		if book.Title == "" {
			book.Title = meta.Album()
		}
		if book.Title == "" {
			book.Title = titleFromPath(path)
		}

		if picture := meta.Picture(); picture != nil && len(picture.Data) > 0 {
			book.CoverArt = picture.Data
			book.CoverMIME = picture.MIMEType
		}
	}

	if e.ProbeDuration && IsFFProbeAvailable() {
		duration, probeErr := ProbeDuration(ctx, path)
		if probeErr == nil {
			book.Duration = duration
		}
	}

	return book, nil
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
