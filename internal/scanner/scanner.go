// Package scanner is the in-process replacement for the original system's
// foreign (Rust) scanner library. Per spec.md §9's design note, the three
// pure functions it exposed — file hashing, chunk splitting, and pattern
// scanning — move in-process: there is no FFI boundary and no buffer
// ownership to hand across a process edge, only a worker-pool boundary to
// keep them off the coordination goroutine.
package scanner

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"

	"golang.org/x/sync/semaphore"
)

// ChunkSize is the maximum byte length of a single indexed chunk.
const ChunkSize = 1_000_000

// Chunk is a 1-based, contiguous slice of a file's bytes, bounded by
// ChunkSize.
type Chunk struct {
	Number  int
	Content string
}

// CompiledPattern pairs a compiled regular expression with the class
// label it assigns. Patterns are ordered; classification is first-match
// wins.
type CompiledPattern struct {
	Regex *regexp.Regexp
	Class string
}

// Compile compiles raw (regex, class) pairs in order, preserving order
// for first-match-wins semantics.
func Compile(patterns []Pattern) ([]CompiledPattern, error) {
	compiled := make([]CompiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", p.Regex, err)
		}
		compiled = append(compiled, CompiledPattern{Regex: re, Class: p.Class})
	}
	return compiled, nil
}

// Pattern is the uncompiled (regex, class) pair as loaded from the store.
type Pattern struct {
	Regex string
	Class string
}

// Pool offloads CPU-bound scanner calls onto a bounded worker pool so
// they never block the coordination scheduler, matching the channel-
// semaphore idiom used for CUDA worker dispatch in the legal-ai service
// this module was adapted from.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a scanner offload pool with the given worker count.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Run acquires a worker slot, runs fn synchronously on it, and releases
// the slot. fn itself must not block on further pool-acquiring calls.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// HashFile computes the lowercase hex SHA-256 digest of the file at
// path. This is the Go replacement for calculate_file_hash(path).
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SplitFileIntoChunks streams path and returns its 1-based, contiguous,
// ChunkSize-bounded chunks. A zero-byte file yields zero chunks. This is
// the Go replacement for split_file_into_chunks(path, chunk_size).
func SplitFileIntoChunks(path string, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s for chunking: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, chunkSize)
	var chunks []Chunk
	buf := make([]byte, chunkSize)
	number := 0
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			number++
			content := make([]byte, n)
			copy(content, buf[:n])
			chunks = append(chunks, Chunk{Number: number, Content: string(content)})
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return chunks, nil
}

// ScanResult is the outcome of a pattern scan: the first matching
// pattern's class label plus every match found under it.
type ScanResult struct {
	Class   string
	Matches []string
}

// ProcessScrap runs the compiled patterns against the file at path and
// returns the first-match-wins classification, or nil if nothing
// matched. duplicateHint is a hint only: when true the scan is skipped
// entirely and nil is returned, since the caller has already decided the
// scrap is a duplicate and only needs the native call invoked for the
// DUPLICATE_EXISTS/NO_PATTERNS_FOUND branch distinction on a non-dup scan.
// This is the Go replacement for process_scrap_in_rust(path, patterns, duplicate_flag).
func ProcessScrap(path string, patterns []CompiledPattern, duplicateHint bool) (*ScanResult, error) {
	if duplicateHint {
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s for scan: %w", path, err)
	}

	for _, p := range patterns {
		matches := p.Regex.FindAllString(string(content), -1)
		if len(matches) > 0 {
			return &ScanResult{Class: p.Class, Matches: matches}, nil
		}
	}
	return nil, nil
}
