package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectDiscovered runs discovery to completion and returns the yielded files
func collectDiscovered(t *testing.T, d *FileDiscoverer, root string) ([]DiscoveredFile, error) {
	t.Helper()
	out := make(chan DiscoveredFile)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		errCh <- d.Discover(context.Background(), root, out)
	}()

	var files []DiscoveredFile
	for f := range out {
		files = append(files, f)
	}
	return files, <-errCh
}

func TestDiscover_FiltersAndOrder(t *testing.T) {
	root := createTestDirectory(t,
		"b.m4b",
		"a.mp3",
		"notes.txt",
		"sub/c.flac",
	)

	cfg := testConfig()
	d := NewFileDiscoverer(cfg, testLogger(), nil, nil)

	files, err := collectDiscovered(t, d, root)
	require.NoError(t, err)
	require.Len(t, files, 3)

	// Depth-first traversal with name-sorted entries is deterministic
	assert.Equal(t, filepath.Join(root, "a.mp3"), files[0].Path)
	assert.Equal(t, filepath.Join(root, "b.m4b"), files[1].Path)
	assert.Equal(t, filepath.Join(root, "sub", "c.flac"), files[2].Path)

	assert.Equal(t, "mp3", files[0].Extension)
	assert.Equal(t, "m4b", files[1].Extension)
	for _, f := range files {
		assert.Greater(t, f.Size, int64(0))
	}
}

func TestDiscover_OversizedFilesAreSkipped(t *testing.T) {
	root := createTestDirectory(t, "small.mp3")
	big := filepath.Join(root, "big.flac")
	require.NoError(t, os.WriteFile(big, make([]byte, 2048), 0o644))

	cfg := testConfig()
	cfg.MaxFileSize = 1024

	var skipped []string
	d := NewFileDiscoverer(cfg, testLogger(), nil, func(path, reason string) {
		skipped = append(skipped, path)
		assert.Equal(t, "file exceeds max_file_size", reason)
	})

	files, err := collectDiscovered(t, d, root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(root, "small.mp3"), files[0].Path)
	assert.Equal(t, []string{big}, skipped)
}

func TestDiscover_MissingRoot(t *testing.T) {
	d := NewFileDiscoverer(testConfig(), testLogger(), nil, nil)

	_, err := collectDiscovered(t, d, "/does/not/exist")
	require.Error(t, err)

	kind, ok := ErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrKindRootAccess, kind)

	var se *ScanError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.IsFatal())
}

func TestDiscover_RootIsFile(t *testing.T) {
	root := createTestDirectory(t, "a.mp3")
	d := NewFileDiscoverer(testConfig(), testLogger(), nil, nil)

	_, err := collectDiscovered(t, d, filepath.Join(root, "a.mp3"))
	require.Error(t, err)

	kind, ok := ErrorKindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrKindRootAccess, kind)
}

func TestDiscover_EmptyTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty", "nested"), 0o755))

	d := NewFileDiscoverer(testConfig(), testLogger(), nil, nil)
	files, err := collectDiscovered(t, d, root)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDiscover_SymlinkCycle(t *testing.T) {
	root := createTestDirectory(t, "sub/a.mp3")

	// Link back to the root from inside the tree
	link := filepath.Join(root, "sub", "loop")
	if err := os.Symlink(root, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	d := NewFileDiscoverer(testConfig(), testLogger(), nil, nil)
	files, err := collectDiscovered(t, d, root)
	require.NoError(t, err)

	// The cycle terminates and the file is seen exactly once
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(root, "sub", "a.mp3"), files[0].Path)
}

func TestDiscover_EntryErrorsCarryDiscoveryKind(t *testing.T) {
	root := createTestDirectory(t, "a.mp3")

	// A dangling symlink fails the per-entry stat without aborting the walk
	broken := filepath.Join(root, "broken.mp3")
	if err := os.Symlink(filepath.Join(root, "missing"), broken); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	var entryErrs []error
	d := NewFileDiscoverer(testConfig(), testLogger(), func(path string, err error) {
		assert.Equal(t, broken, path)
		entryErrs = append(entryErrs, err)
	}, nil)

	files, err := collectDiscovered(t, d, root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(root, "a.mp3"), files[0].Path)

	require.Len(t, entryErrs, 1)
	kind, ok := ErrorKindOf(entryErrs[0])
	require.True(t, ok)
	assert.Equal(t, ErrKindDiscovery, kind)

	var se *ScanError
	require.ErrorAs(t, entryErrs[0], &se)
	assert.False(t, se.IsFatal())
}

func TestDiscover_OnFoundFiresBeforeSend(t *testing.T) {
	root := createTestDirectory(t, "a.mp3", "b.mp3")

	cfg := testConfig()
	d := NewFileDiscoverer(cfg, testLogger(), nil, nil)

	found := 0
	d.onFound = func(DiscoveredFile) { found++ }

	files, err := collectDiscovered(t, d, root)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Equal(t, 2, found)
}

func TestDiscover_CancelledContext(t *testing.T) {
	root := createTestDirectory(t, "a.mp3", "b.mp3", "c.mp3")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewFileDiscoverer(testConfig(), testLogger(), nil, nil)
	out := make(chan DiscoveredFile, 8)
	err := d.Discover(ctx, root, out)
	assert.ErrorIs(t, err, context.Canceled)
}
