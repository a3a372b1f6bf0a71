package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/pshap/abop-app-sub005/internal/metadata"
)

// FileDiscoverer walks a library root and yields candidate audio files,
// filtering by extension and size before any metadata work. Per-entry
// filesystem errors are reported through onError and traversal continues
// with siblings.
type FileDiscoverer struct {
	config  ScanConfig
	logger  hclog.Logger
	onError func(path string, err error)
	onSkip  func(path string, reason string)
	// onFound fires for each yielded candidate, before the send so
	// found counts lead processed counts
	onFound func(file DiscoveredFile)
}

// NewFileDiscoverer creates a discoverer. onError and onSkip may be nil.
func NewFileDiscoverer(config ScanConfig, logger hclog.Logger, onError func(string, error), onSkip func(string, string)) *FileDiscoverer {
	if onError == nil {
		onError = func(string, error) {}
	}
	if onSkip == nil {
		onSkip = func(string, string) {}
	}
	return &FileDiscoverer{
		config:  config,
		logger:  logger,
		onError: onError,
		onSkip:  onSkip,
	}
}

// Discover walks root and sends candidates to out. The walk is depth-first
// with entries in name order, so the sequence is deterministic for a fixed
// filesystem state. Visited directories are tracked by canonical path so
// symlink cycles terminate. Returns a fatal error only when the root itself
// is inaccessible or the context is cancelled; out is not closed.
func (d *FileDiscoverer) Discover(ctx context.Context, root string, out chan<- DiscoveredFile) error {
	info, err := os.Stat(root)
	if err != nil {
		return newScanError(ErrKindRootAccess, root, err)
	}
	if !info.IsDir() {
		return newScanError(ErrKindRootAccess, root, fmt.Errorf("not a directory"))
	}

	visited := make(map[string]bool)
	return d.walkDir(ctx, root, visited, out)
}

func (d *FileDiscoverer) walkDir(ctx context.Context, dir string, visited map[string]bool, out chan<- DiscoveredFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		d.logger.Warn("cannot resolve directory", "path", dir, "error", err)
		d.onError(dir, newScanError(ErrKindDiscovery, dir, err))
		return nil
	}
	if visited[canonical] {
		d.logger.Debug("skipping already visited directory", "path", dir, "canonical", canonical)
		return nil
	}
	visited[canonical] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		d.logger.Warn("cannot read directory", "path", dir, "error", err)
		d.onError(dir, newScanError(ErrKindDiscovery, dir, err))
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dir, entry.Name())

		// Resolve symlinked entries through Stat so linked directories
		// recurse and linked files get their real size.
		entryInfo, err := os.Stat(path)
		if err != nil {
			d.logger.Warn("cannot stat entry", "path", path, "error", err)
			d.onError(path, newScanError(ErrKindDiscovery, path, err))
			continue
		}

		if entryInfo.IsDir() {
			if err := d.walkDir(ctx, path, visited, out); err != nil {
				return err
			}
			continue
		}

		file, ok := d.filter(path, entryInfo.Size())
		if !ok {
			continue
		}

		if d.onFound != nil {
			d.onFound(file)
		}

		select {
		case out <- file:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// filter applies the extension and size policy. Excluded files are not
// errors; oversized files are reported as skips so they show up in counts.
func (d *FileDiscoverer) filter(path string, size int64) (DiscoveredFile, bool) {
	ext := normalizedExt(path)
	if !d.config.Extensions[ext] {
		return DiscoveredFile{}, false
	}

	if d.config.MaxFileSize > 0 && size > d.config.MaxFileSize {
		d.logger.Debug("skipping oversized file", "path", path, "size", size, "max", d.config.MaxFileSize)
		d.onSkip(path, "file exceeds max_file_size")
		return DiscoveredFile{}, false
	}

	return DiscoveredFile{Path: path, Size: size, Extension: ext}, true
}

func normalizedExt(path string) string {
	return metadata.NormalizeExtension(filepath.Ext(path))
}
