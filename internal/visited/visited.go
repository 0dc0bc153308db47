// Package visited implements the process-wide, cross-job dedup set
// described in spec.md §4.3 and §9: once any job fetches a URL, no job
// ever fetches it again. It is the single owner other packages consult
// rather than each maintaining their own copy (spec.md §9).
//
// Grounded on crawler_job.py's _load_visited_urls/_save_visited_url
// (original_source/) and Lucifer4255-go-crawler/internal/crawl/dedupe.go
// for the in-memory shape.
package visited

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// mark is one entry in the append-only log: "{url} {job_id} {ts}".
type mark struct {
	jobID string
	ts    int64
}

// Registry is the process-wide visited set, backed by an append-only
// file at dataDir/visited_urls.data.
type Registry struct {
	mu   sync.RWMutex
	set  map[string]mark
	file string
}

// Open creates or opens the registry rooted at dataDir, loading any
// existing append log into memory (spec.md §4.3 load_all).
func Open(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	r := &Registry{
		set:  make(map[string]mark),
		file: filepath.Join(dataDir, "visited_urls.data"),
	}
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadAll() error {
	f, err := os.Open(r.file)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open visited log: %w", err)
	}
	defer f.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue // tolerate malformed/duplicate lines per spec.md §4.3
		}
		url, jobID, tsStr := parts[0], parts[1], parts[2]
		var ts int64
		fmt.Sscanf(tsStr, "%d", &ts)
		// First occurrence wins; duplicates are tolerated, not overwritten.
		if _, exists := r.set[url]; !exists {
			r.set[url] = mark{jobID: jobID, ts: ts}
		}
	}
	return scanner.Err()
}

// Contains reports whether url has ever been visited by any job.
func (r *Registry) Contains(url string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.set[url]
	return ok
}

// Mark records url as visited by jobID. It is idempotent: a second call
// for the same URL is a no-op and returns false, per spec.md §4.3.
// mark(u) happens-before any subsequent Contains(u) observation, since
// both the in-memory write and the append both occur under the same
// exclusive lock (spec.md §5).
func (r *Registry) Mark(url, jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.set[url]; exists {
		return false
	}

	ts := time.Now().Unix()
	line := fmt.Sprintf("%s %s %d\n", url, jobID, ts)

	f, err := os.OpenFile(r.file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		// On a write failure the URL is not recorded in memory either.
		// The false result does not distinguish this from an
		// already-visited URL, and the job runtime does not inspect it.
		return false
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return false
	}

	r.set[url] = mark{jobID: jobID, ts: ts}
	return true
}

// Size returns the total number of distinct visited URLs.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.set)
}

// DomainStats summarizes the visited log by job and by host, per the
// get_visited_urls_stats supplement described in SPEC_FULL.md §9.
type DomainStats struct {
	TotalURLs int
	ByJob     map[string]int
	ByDomain  map[string]int
}

// Stats computes a DomainStats snapshot over the current visited set.
func (r *Registry) Stats() DomainStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := DomainStats{ByJob: make(map[string]int), ByDomain: make(map[string]int)}
	for url, m := range r.set {
		out.TotalURLs++
		out.ByJob[m.jobID]++
		out.ByDomain[hostOf(url)]++
	}
	return out
}

func hostOf(rawURL string) string {
	// Avoid importing net/url just for this: visited URLs are already
	// normalized ("scheme://host[:port]/path..."), so a split on "/" is
	// sufficient and keeps this package dependency-light.
	parts := strings.SplitN(rawURL, "://", 2)
	if len(parts) != 2 {
		return ""
	}
	rest := parts[1]
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[:i]
	}
	return rest
}
