// Package localfs provides local filesystem persistence for stowage.
package localfs

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how entry files are encoded on disk.
type Compression string

// Supported compression modes.
const (
	None Compression = ""
	Zstd Compression = "zstd"
	LZ4  Compression = "lz4"
)

var (
	// Pool for bufio.Writer to reduce allocations.
	writerPool = sync.Pool{
		New: func() any {
			return bufio.NewWriterSize(nil, 4096)
		},
	}
	// Pool for bufio.Reader to reduce allocations.
	readerPool = sync.Pool{
		New: func() any {
			return bufio.NewReaderSize(nil, 4096)
		},
	}
)

// entry is the on-disk record. The key is kept so the directory can be
// enumerated without an index.
type entry struct {
	UpdatedAt time.Time
	Key       string
	Value     string
}

// Store keeps one file per key under a directory.
//
//nolint:govet // fieldalignment - current layout groups related fields logically (mutex with map it protects)
type Store struct {
	subdirsMu   sync.RWMutex
	Dir         string          // Exported for testing - directory path
	subdirsMade map[string]bool // Cache of created subdirectories
	compression Compression
}

// New creates a new file-based store.
// The cacheID is used as a subdirectory name under the OS cache directory.
// If dir is provided (non-empty), it's used as the base directory instead of OS cache dir.
func New(cacheID, dir string, compression Compression) (*Store, error) {
	if cacheID == "" {
		return nil, errors.New("cacheID cannot be empty")
	}
	if strings.Contains(cacheID, "..") || strings.ContainsAny(cacheID, `/\`) {
		return nil, errors.New("invalid cacheID: contains path separators or traversal sequences")
	}
	if strings.Contains(cacheID, "\x00") {
		return nil, errors.New("invalid cacheID: contains null byte")
	}
	switch compression {
	case None, Zstd, LZ4:
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}

	base := dir
	if base == "" {
		d, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("get user cache dir: %w", err)
		}
		base = d
	}
	fullDir := filepath.Join(base, cacheID)

	if err := os.MkdirAll(fullDir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	// Verify directory is writable by creating a test file
	testFile := filepath.Join(fullDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("cache dir not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove test file: %w", err)
	}

	return &Store{
		Dir:         fullDir,
		subdirsMade: make(map[string]bool),
		compression: compression,
	}, nil
}

func (s *Store) ext() string {
	switch s.compression {
	case Zstd:
		return ".gob.zst"
	case LZ4:
		return ".gob.lz4"
	default:
		return ".gob"
	}
}

// keyToFilename converts a key to a filename with squid-style directory layout.
// Hashes the key and uses first 2 characters of hex hash as subdirectory for even distribution
// (e.g., key "theme" -> "a3/a3f2...gob").
func (s *Store) keyToFilename(key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(h[:2], h+s.ext())
}

// Location returns the full file path where a key is stored.
func (s *Store) Location(key string) string {
	return filepath.Join(s.Dir, s.keyToFilename(key))
}

// Get returns the value stored under key.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Backend contract
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	e, found, err := s.read(s.Location(key))
	if err != nil || !found {
		return "", false, err
	}
	return e.Value, true, nil
}

func (s *Store) read(path string) (entry, bool, error) {
	var e entry
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return e, false, nil
		}
		return e, false, fmt.Errorf("open file: %w", err)
	}

	r, err := s.decompress(file)
	if err != nil {
		return e, false, errors.Join(fmt.Errorf("open decompressor: %w", err), file.Close())
	}

	// Get reader from pool and reset it for this file
	reader, ok := readerPool.Get().(*bufio.Reader)
	if !ok {
		reader = bufio.NewReaderSize(r, 4096)
	}
	reader.Reset(r)

	decErr := gob.NewDecoder(reader).Decode(&e)

	readerPool.Put(reader)
	closeErr := errors.Join(r.Close(), file.Close())

	if decErr != nil {
		return e, false, errors.Join(fmt.Errorf("decode %s: %w", path, decErr), closeErr)
	}
	if closeErr != nil {
		return e, false, fmt.Errorf("close file: %w", closeErr)
	}
	return e, true, nil
}

// decompress wraps f according to the store's compression mode.
// The returned reader must be closed to release decoder resources.
func (s *Store) decompress(f io.Reader) (io.ReadCloser, error) {
	switch s.compression {
	case Zstd:
		d, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(f)), nil
	default:
		return io.NopCloser(f), nil
	}
}

// compress wraps f according to the store's compression mode. The returned
// closer must be closed before f to flush compressed frames.
func (s *Store) compress(f io.Writer) (io.WriteCloser, error) {
	switch s.compression {
	case Zstd:
		return zstd.NewWriter(f, zstd.WithEncoderConcurrency(1))
	case LZ4:
		return lz4.NewWriter(f), nil
	default:
		return nopCloser{f}, nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Set saves value to a file, replacing it atomically.
func (s *Store) Set(_ context.Context, key, value string) error {
	filename := s.Location(key)
	subdir := filepath.Dir(filename)

	// Check if subdirectory already created (cache to avoid syscalls)
	s.subdirsMu.RLock()
	exists := s.subdirsMade[subdir]
	s.subdirsMu.RUnlock()

	if !exists {
		s.subdirsMu.Lock()
		if !s.subdirsMade[subdir] {
			if err := os.MkdirAll(subdir, 0o750); err != nil {
				s.subdirsMu.Unlock()
				return fmt.Errorf("create subdirectory: %w", err)
			}
			s.subdirsMade[subdir] = true
		}
		s.subdirsMu.Unlock()
	}

	// Write to temp file first, then rename for atomicity
	tempFile := filename + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	encErr := s.encode(file, entry{Key: key, Value: value, UpdatedAt: time.Now()})
	closeErr := file.Close()

	if encErr != nil {
		return errors.Join(fmt.Errorf("encode entry: %w", encErr), os.Remove(tempFile))
	}
	if closeErr != nil {
		return errors.Join(fmt.Errorf("close temp file: %w", closeErr), os.Remove(tempFile))
	}
	if err := os.Rename(tempFile, filename); err != nil {
		return errors.Join(fmt.Errorf("rename file: %w", err), os.Remove(tempFile))
	}
	return nil
}

func (s *Store) encode(file io.Writer, e entry) error {
	cw, err := s.compress(file)
	if err != nil {
		return fmt.Errorf("open compressor: %w", err)
	}

	// Get writer from pool and reset it for this file
	writer, ok := writerPool.Get().(*bufio.Writer)
	if !ok {
		writer = bufio.NewWriterSize(cw, 4096)
	}
	writer.Reset(cw)

	err = gob.NewEncoder(writer).Encode(e)
	if err == nil {
		err = writer.Flush()
	}
	writerPool.Put(writer)

	return errors.Join(err, cw.Close())
}

// Delete removes a file.
func (s *Store) Delete(_ context.Context, key string) error {
	err := os.Remove(s.Location(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// files returns every entry file in sorted path order.
func (s *Store) files(ctx context.Context) ([]string, error) {
	var out []string
	ext := s.ext()
	err := filepath.WalkDir(s.Dir, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	slices.Sort(out)
	return out, nil
}

// Len returns the number of entry files.
func (s *Store) Len(ctx context.Context) (int, error) {
	fs, err := s.files(ctx)
	return len(fs), err
}

// KeyAt returns the key stored in the i-th file, ordered by file path.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Enumerable contract
func (s *Store) KeyAt(ctx context.Context, i int) (string, bool, error) {
	fs, err := s.files(ctx)
	if err != nil {
		return "", false, err
	}
	if i < 0 || i >= len(fs) {
		return "", false, nil
	}
	e, found, err := s.read(fs[i])
	if err != nil || !found {
		return "", false, err
	}
	return e.Key, true, nil
}

// Keys returns the key of every entry file, ordered by file path, from a
// single directory walk. Files removed during the walk are skipped.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	fs, err := s.files(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(fs))
	for _, path := range fs {
		e, found, err := s.read(path)
		if err != nil {
			return out, err
		}
		if found {
			out = append(out, e.Key)
		}
	}
	return out, nil
}

// Flush removes all entries from the store.
// Returns the number of entries removed and any errors encountered.
func (s *Store) Flush(ctx context.Context) (int, error) {
	fs, err := s.files(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, path := range fs {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		n++
	}

	s.subdirsMu.Lock()
	s.subdirsMade = make(map[string]bool)
	s.subdirsMu.Unlock()

	return n, errors.Join(errs...)
}

// Close cleans up resources.
func (*Store) Close() error {
	// No resources to clean up for file-based persistence
	return nil
}
