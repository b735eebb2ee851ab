package chunks

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/reelhouse/reelhouse-api/errors"
	"github.com/reelhouse/reelhouse-api/log"
)

// Store buffers partial uploads on local disk and reassembles them into a
// single source file. Each upload gets a folder under {root}/chunks holding
// one file per chunk, named by its starting byte offset.
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

var whitespace = regexp.MustCompile(`\s+`)

// SanitizeName makes an upload filename safe to use as a directory name and
// object-store key: path separators stripped, whitespace collapsed to
// underscores, lowercased.
func SanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	name = whitespace.ReplaceAllString(name, "_")
	return strings.ToLower(name)
}

// BaseName returns the sanitized name with its extension removed, which keys
// every derived artifact (rung files, playlists, subtitle prefix).
func BaseName(name string) string {
	s := SanitizeName(name)
	return strings.TrimSuffix(s, filepath.Ext(s))
}

func (s *Store) chunkDir(name string) string {
	return filepath.Join(s.Root, "chunks", SanitizeName(name))
}

// CombinedPath is where Combine writes the reassembled source file.
func (s *Store) CombinedPath(name string) string {
	return filepath.Join(s.Root, BaseName(name)+".mp4")
}

// SaveChunk writes one chunk atomically (temp file + rename) and returns the
// chunk's path. The chunk folder is created lazily on first write.
func (s *Store) SaveChunk(name string, start int64, data io.Reader) (string, error) {
	if start < 0 {
		return "", fmt.Errorf("invalid chunk start offset %d", start)
	}
	dir := s.chunkDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create chunk folder: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".chunk-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp chunk file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close chunk file: %w", err)
	}

	chunkPath := filepath.Join(dir, strconv.FormatInt(start, 10))
	if err := os.Rename(tmp.Name(), chunkPath); err != nil {
		return "", fmt.Errorf("failed to finalise chunk file: %w", err)
	}
	return chunkPath, nil
}

// HasChunk reports whether the chunk starting at the given offset has already
// been received, so clients can resume interrupted uploads.
func (s *Store) HasChunk(name string, start int64) bool {
	info, err := os.Stat(filepath.Join(s.chunkDir(name), strconv.FormatInt(start, 10)))
	return err == nil && info.Mode().IsRegular()
}

type chunkFile struct {
	start int64
	size  int64
	path  string
}

// Combine reassembles all chunks of an upload into CombinedPath(name),
// verifying the set starts at offset 0 and is contiguous. Chunks are deleted
// as they are consumed and the empty folder is removed afterwards.
//
// Combine is single-writer per name: the job-uniqueness invariant in the job
// manager guarantees no two combines run concurrently for the same upload.
func (s *Store) Combine(name string) (string, int64, error) {
	dir := s.chunkDir(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, fmt.Errorf("failed to list chunk folder: %w", err)
	}

	var files []chunkFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		start, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			// leftover temp file from an interrupted save
			continue
		}
		info, err := e.Info()
		if err != nil {
			return "", 0, fmt.Errorf("failed to stat chunk %s: %w", e.Name(), err)
		}
		files = append(files, chunkFile{start: start, size: info.Size(), path: filepath.Join(dir, e.Name())})
	}
	if len(files) == 0 {
		return "", 0, fmt.Errorf("no chunks found for %q: %w", name, errors.ErrChunkMissing)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].start < files[j].start })

	if files[0].start != 0 {
		return "", 0, fmt.Errorf("first chunk starts at %d, not 0: %w", files[0].start, errors.ErrChunkMissing)
	}
	var expected int64
	for _, f := range files {
		if f.start != expected {
			return "", 0, fmt.Errorf("gap before offset %d (expected %d): %w", f.start, expected, errors.ErrChunkMissing)
		}
		expected = f.start + f.size
	}

	outPath := s.CombinedPath(name)
	out, err := os.Create(outPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create combined file: %w", err)
	}

	var written int64
	for _, f := range files {
		in, err := os.Open(f.path)
		if err != nil {
			out.Close()
			return "", 0, fmt.Errorf("failed to open chunk %d: %w", f.start, err)
		}
		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			return "", 0, fmt.Errorf("failed to append chunk %d: %w", f.start, err)
		}
		written += n
		if err := os.Remove(f.path); err != nil {
			log.LogNoJobID("failed to delete consumed chunk", "path", f.path, "err", err)
		}
	}
	if err := out.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close combined file: %w", err)
	}
	if err := os.Remove(dir); err != nil {
		log.LogNoJobID("failed to remove chunk folder", "dir", dir, "err", err)
	}

	return outPath, written, nil
}

// DiscardSet deletes the chunk folder for an upload. Best effort; used on job
// cancellation and failure cleanup.
func (s *Store) DiscardSet(name string) {
	if err := os.RemoveAll(s.chunkDir(name)); err != nil {
		log.LogNoJobID("failed to discard chunk set", "name", name, "err", err)
	}
}
