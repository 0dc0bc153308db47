// Package registry implements the thread-safe job-id → runtime map
// described in spec.md §4.6: it owns job creation, lifecycle
// transitions, and the merge of live runtime state with on-disk status
// snapshots for jobs whose process-local runtime is absent.
//
// Grounded on JakeFAU-realtime-cpi-crawler's internal/api handler
// pattern for request validation and internal/job's map-of-runtimes
// shape, generalized to spec.md's Interrupted-state reconciliation.
package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crawlhub/internal/apperr"
	"crawlhub/internal/index"
	"crawlhub/internal/job"
	"crawlhub/internal/metrics"
	"crawlhub/internal/model"
	"crawlhub/internal/urlnorm"
	"crawlhub/internal/visited"
)

// Registry owns every job known to this process, live or recovered
// from disk, plus the shared Visited Registry and Index Writer every
// job's runtime consults.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*job.Runtime

	dataDir string
	vis     *visited.Registry
	idx     *index.Writer
	metrics *metrics.Metrics
	logger  *zap.Logger

	totalCreated int
}

// Open constructs a Registry rooted at dataDir, loading the process-wide
// Visited Registry and marking any on-disk job whose status file claims
// Active/Paused as Interrupted, per spec.md §4.6.
func Open(dataDir string, m *metrics.Metrics, logger *zap.Logger) (*Registry, error) {
	vis, err := visited.Open(dataDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "open visited registry", err)
	}
	idx, err := index.New(dataDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "open index writer", err)
	}

	r := &Registry{
		jobs:    make(map[string]*job.Runtime),
		dataDir: dataDir,
		vis:     vis,
		idx:     idx,
		metrics: m,
		logger:  logger,
	}
	if err := r.markInterruptedJobs(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) markInterruptedJobs() error {
	ids, err := onDiskJobIDs(r.dataDir)
	if err != nil {
		return apperr.Wrap(apperr.KindFatal, "scan crawlers directory", err)
	}
	for _, id := range ids {
		sf, err := job.LoadStatusFile(r.dataDir, id)
		if err != nil {
			continue
		}
		if sf.Status == model.StatusActive || sf.Status == model.StatusPaused {
			sf.Status = model.StatusInterrupted
			writeStatusFile(r.dataDir, sf)
		}
		r.totalCreated++
	}
	return nil
}

// validateConfig enforces spec.md §3's admissible ranges and fills in
// defaults for omitted optional fields.
func validateConfig(cfg model.Config) (model.Config, error) {
	origin, ok := urlnorm.Normalize(cfg.Origin, "")
	if !ok {
		return cfg, apperr.New(apperr.KindInvalidInput, "invalid origin URL: "+cfg.Origin)
	}
	cfg.Origin = origin

	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = model.MinDepth
	}
	if cfg.HitRate == 0 {
		cfg.HitRate = model.DefaultHitRate
	}
	if cfg.MaxQueueCapacity == 0 {
		cfg.MaxQueueCapacity = model.DefaultQueueCapacity
	}

	if cfg.MaxDepth < model.MinDepth || cfg.MaxDepth > model.MaxDepth {
		return cfg, apperr.New(apperr.KindInvalidInput, fmt.Sprintf("max_depth %d out of range [%d,%d]", cfg.MaxDepth, model.MinDepth, model.MaxDepth))
	}
	if cfg.HitRate < model.MinHitRate || cfg.HitRate > model.MaxHitRate {
		return cfg, apperr.New(apperr.KindInvalidInput, fmt.Sprintf("hit_rate %v out of range [%v,%v]", cfg.HitRate, model.MinHitRate, model.MaxHitRate))
	}
	if cfg.MaxQueueCapacity < model.MinQueueCapacity || cfg.MaxQueueCapacity > model.MaxQueueCapacity {
		return cfg, apperr.New(apperr.KindInvalidInput, fmt.Sprintf("max_queue_capacity %d out of range [%d,%d]", cfg.MaxQueueCapacity, model.MinQueueCapacity, model.MaxQueueCapacity))
	}
	// max_urls_to_visit == 0 means unbounded; it is never re-purposed
	// (spec.md §9's open question on this point is resolved explicitly).
	if cfg.MaxURLsToVisit < model.MinMaxURLsToVisit || cfg.MaxURLsToVisit > model.MaxMaxURLsToVisit {
		return cfg, apperr.New(apperr.KindInvalidInput, fmt.Sprintf("max_urls_to_visit %d out of range [%d,%d]", cfg.MaxURLsToVisit, model.MinMaxURLsToVisit, model.MaxMaxURLsToVisit))
	}
	return cfg, nil
}

// Create validates cfg, allocates a job id, and starts its runtime.
func (r *Registry) Create(cfg model.Config) (string, error) {
	cfg, err := validateConfig(cfg)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	rt := job.New(id, cfg, r.dataDir, r.vis, r.idx, r.metrics, r.logger)

	r.mu.Lock()
	r.jobs[id] = rt
	r.totalCreated++
	r.mu.Unlock()

	return id, nil
}

// Get returns a merged snapshot for id: the live runtime's view when
// attached, otherwise the on-disk status file annotated Interrupted if
// it claims a running state with no runtime present.
func (r *Registry) Get(id string) (model.Snapshot, error) {
	r.mu.RLock()
	rt, ok := r.jobs[id]
	r.mu.RUnlock()
	if ok {
		return rt.Snapshot(), nil
	}

	sf, err := job.LoadStatusFile(r.dataDir, id)
	if err != nil {
		return model.Snapshot{}, apperr.New(apperr.KindNotFound, "unknown job: "+id)
	}
	status := sf.Status
	if status == model.StatusActive || status == model.StatusPaused {
		status = model.StatusInterrupted
	}
	queue, _ := job.LoadQueueFile(r.dataDir, id)
	return model.Snapshot{
		CrawlerID:    sf.CrawlerID,
		Origin:       sf.Origin,
		MaxDepth:     sf.MaxDepth,
		HitRate:      sf.HitRate,
		Status:       status,
		VisitedCount: sf.VisitedCount,
		CreatedAt:    sf.CreatedAt,
		UpdatedAt:    sf.UpdatedAt,
		Queue:        queue,
	}, nil
}

// List returns a snapshot of every job known to the process, live or
// on-disk-only.
func (r *Registry) List() ([]model.Snapshot, error) {
	seen := make(map[string]bool)
	var out []model.Snapshot

	r.mu.RLock()
	for id, rt := range r.jobs {
		out = append(out, rt.Snapshot())
		seen[id] = true
	}
	r.mu.RUnlock()

	ids, err := onDiskJobIDs(r.dataDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceError, "scan crawlers directory", err)
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		snap, err := r.Get(id)
		if err == nil {
			out = append(out, snap)
		}
	}
	return out, nil
}

// Pause, Resume, and Stop require a live runtime: a job recovered only
// from disk (Interrupted) must go through ResumeFromFiles first.
func (r *Registry) Pause(id string) error  { return r.withRuntime(id, (*job.Runtime).Pause) }
func (r *Registry) Resume(id string) error { return r.withRuntime(id, (*job.Runtime).Resume) }
func (r *Registry) Stop(id string) error   { return r.withRuntime(id, (*job.Runtime).Stop) }

func (r *Registry) withRuntime(id string, fn func(*job.Runtime) error) error {
	r.mu.RLock()
	rt, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.KindNotFound, "unknown or non-live job: "+id)
	}
	return fn(rt)
}

// ResumeFromFiles rebuilds a runtime from {id}.status + {id}.queue and
// transitions it to Active, per spec.md §4.5.
func (r *Registry) ResumeFromFiles(id string) (model.Snapshot, error) {
	r.mu.RLock()
	_, alreadyLive := r.jobs[id]
	r.mu.RUnlock()
	if alreadyLive {
		return model.Snapshot{}, apperr.New(apperr.KindIllegalTransition, "job already has a live runtime: "+id)
	}

	sf, err := job.LoadStatusFile(r.dataDir, id)
	if err != nil {
		return model.Snapshot{}, apperr.New(apperr.KindNotFound, "unknown job: "+id)
	}

	cfg := model.Config{
		Origin:           sf.Origin,
		MaxDepth:         sf.MaxDepth,
		HitRate:          sf.HitRate,
		MaxQueueCapacity: sf.MaxQueueCapacity,
		MaxURLsToVisit:   sf.MaxURLsToVisit,
	}
	rt := job.Resume(id, cfg, r.dataDir, r.vis, r.idx, r.metrics, r.logger, sf.VisitedCount)

	r.mu.Lock()
	r.jobs[id] = rt
	r.mu.Unlock()

	return rt.Snapshot(), nil
}

// Stats aggregates counters across the whole platform, per
// spec.md §6's /crawler/stats contract.
type Stats struct {
	TotalVisitedURLs    int
	TotalWordsInDatabase int
	TotalActiveCrawlers int
	TotalCrawlersCreated int
}

// Index returns the shared index writer, for components (search) that
// need to read the same shard files jobs append to.
func (r *Registry) Index() *index.Writer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx
}

// VisitedStats exposes the per-job and per-domain breakdown of the
// process-wide visited log, per SPEC_FULL.md §9's visited-URL analytics
// supplement (get_visited_urls_stats in the original crawler_service.py).
func (r *Registry) VisitedStats() visited.DomainStats {
	r.mu.RLock()
	vis := r.vis
	r.mu.RUnlock()
	return vis.Stats()
}

func (r *Registry) Stats() (Stats, error) {
	r.mu.RLock()
	active := 0
	for _, rt := range r.jobs {
		if rt.Status() == model.StatusActive {
			active++
		}
	}
	created := r.totalCreated
	idx := r.idx
	vis := r.vis
	r.mu.RUnlock()

	words, err := countShardLines(idx)
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.KindPersistenceError, "count index shards", err)
	}

	return Stats{
		TotalVisitedURLs:     vis.Size(),
		TotalWordsInDatabase: words,
		TotalActiveCrawlers:  active,
		TotalCrawlersCreated: created,
	}, nil
}

// ClearCounts reports what an administrative clear removed.
type ClearCounts struct {
	CrawlersCleared int
	StorageFilesCleared int
}

// ClearAll stops every live job and deletes all persisted state:
// visited log, per-job files, and index shards. Destructive and
// intended only for the administrative /crawler/clear endpoint.
func (r *Registry) ClearAll() (ClearCounts, error) {
	r.mu.Lock()
	jobsToStop := make([]*job.Runtime, 0, len(r.jobs))
	for _, rt := range r.jobs {
		jobsToStop = append(jobsToStop, rt)
	}
	cleared := len(r.jobs)
	r.jobs = make(map[string]*job.Runtime)
	r.totalCreated = 0
	r.mu.Unlock()

	for _, rt := range jobsToStop {
		if rt.Status() == model.StatusActive || rt.Status() == model.StatusPaused {
			rt.Stop()
		}
	}

	shards, _ := r.idx.Shards()
	storageCleared := len(shards)

	if err := os.RemoveAll(filepath.Join(r.dataDir, "crawlers")); err != nil {
		return ClearCounts{}, apperr.Wrap(apperr.KindPersistenceError, "clear crawlers dir", err)
	}
	if err := os.RemoveAll(filepath.Join(r.dataDir, "storage")); err != nil {
		return ClearCounts{}, apperr.Wrap(apperr.KindPersistenceError, "clear storage dir", err)
	}
	if err := os.Remove(filepath.Join(r.dataDir, "visited_urls.data")); err != nil && !os.IsNotExist(err) {
		return ClearCounts{}, apperr.Wrap(apperr.KindPersistenceError, "clear visited log", err)
	}

	vis, err := visited.Open(r.dataDir)
	if err != nil {
		return ClearCounts{}, apperr.Wrap(apperr.KindFatal, "reopen visited registry", err)
	}
	idx, err := index.New(r.dataDir)
	if err != nil {
		return ClearCounts{}, apperr.Wrap(apperr.KindFatal, "reopen index writer", err)
	}
	r.mu.Lock()
	r.vis = vis
	r.idx = idx
	r.mu.Unlock()

	return ClearCounts{CrawlersCleared: cleared, StorageFilesCleared: storageCleared}, nil
}

func onDiskJobIDs(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, "crawlers"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".status") {
			ids = append(ids, strings.TrimSuffix(name, ".status"))
		}
	}
	return ids, nil
}

func writeStatusFile(dataDir string, sf model.StatusFile) {
	path := filepath.Join(dataDir, "crawlers", sf.CrawlerID+".status")
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

func countShardLines(idx *index.Writer) (int, error) {
	shards, err := idx.Shards()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, letter := range shards {
		f, err := os.Open(filepath.Join(idx.Dir(), letter+".data"))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			total++
		}
		f.Close()
	}
	return total, nil
}
