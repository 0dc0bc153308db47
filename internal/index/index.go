// Package index implements the append-only, sharded inverted index
// described in spec.md §4.4 and §6: postings are grouped by the first
// rune of their word and appended, one line per posting, to
// storage/{letter}.data. There is no compaction and no dedup — two
// crawls of the same page simply produce two lines; ranking in
// internal/search accounts for that.
//
// Grounded on indexer.go's shard-file layout, generalized from its
// sort-and-rewrite-on-every-save model to line-atomic append, per the
// explicit append-only contract in spec.md §4.4/§9.
package index

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"crawlhub/internal/model"
)

// Writer appends postings to on-disk shard files rooted at dataDir/storage.
type Writer struct {
	dir   string
	mu    sync.Mutex // guards locks only; each shard has its own writer lock in locks
	locks map[string]*sync.Mutex
}

// New constructs a Writer rooted at dataDir.
func New(dataDir string) (*Writer, error) {
	dir := filepath.Join(dataDir, "storage")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Writer{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// shardLock returns the per-shard mutex, creating it on first use. Writes
// within one shard are serialized; writes across shards may interleave
// (spec.md §5).
func (w *Writer) shardLock(letter string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[letter]
	if !ok {
		l = &sync.Mutex{}
		w.locks[letter] = l
	}
	return l
}

// Append groups postings by shard letter and appends each as a single
// buffered line.
func (w *Writer) Append(postings []model.Posting) error {
	byShard := make(map[string][]model.Posting)
	for _, p := range postings {
		byShard[ShardLetter(p.Word)] = append(byShard[ShardLetter(p.Word)], p)
	}
	for letter, ps := range byShard {
		if err := w.appendShard(letter, ps); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) appendShard(letter string, postings []model.Posting) error {
	lock := w.shardLock(letter)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(w.dir, letter+".data")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open shard %s: %w", letter, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	for _, p := range postings {
		fmt.Fprintf(bw, "%s %s %s %d %d\n", p.Word, p.RelevantURL, p.OriginURL, p.Depth, p.Frequency)
	}
	return bw.Flush()
}

// ShardLetter returns the shard filename stem (without ".data") for a
// word's first rune: the lowercase character itself for ASCII letters,
// or "u{hex}" for non-ASCII code points, per spec.md §6.
func ShardLetter(word string) string {
	if word == "" {
		return "u0"
	}
	r := []rune(word)[0]
	if r < 128 {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		return string(r)
	}
	return fmt.Sprintf("u%x", r)
}

// Shards lists the shard letters currently present on disk, used by
// search's random_word and by /crawler/stats' word-count tally.
func (w *Writer) Shards() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var letters []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".data" {
			letters = append(letters, name[:len(name)-len(".data")])
		}
	}
	return letters, nil
}

// Dir returns the storage directory, for components (search) that need
// to open shard files directly.
func (w *Writer) Dir() string {
	return w.dir
}
