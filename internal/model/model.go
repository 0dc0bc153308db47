// Package model holds the data types shared across the crawler runtime,
// the index, and the control API, per spec.md §3.
package model

import "time"

// Status is a job's lifecycle state, per spec.md §4.5.
type Status string

const (
	StatusActive      Status = "Active"
	StatusPaused      Status = "Paused"
	StatusStopped     Status = "Stopped"
	StatusFinished    Status = "Finished"
	StatusInterrupted Status = "Interrupted"
)

// Config is the validated, bounded configuration of a single crawl job.
type Config struct {
	Origin            string  `json:"origin"`
	MaxDepth          int     `json:"max_depth"`
	HitRate           float64 `json:"hit_rate"`
	MaxQueueCapacity  int     `json:"max_queue_capacity"`
	MaxURLsToVisit    int     `json:"max_urls_to_visit"` // 0 means unbounded
}

// Bounds mirror spec.md §3's admissible ranges.
const (
	MinDepth = 1
	MaxDepth = 1000

	MinHitRate = 0.1
	MaxHitRate = 1000.0

	MinQueueCapacity = 100
	MaxQueueCapacity = 100000

	MinMaxURLsToVisit = 0
	MaxMaxURLsToVisit = 10000

	DefaultHitRate          = 100.0
	DefaultQueueCapacity    = 10000
	DefaultMaxURLsToVisit   = 1000
)

// FrontierEntry is a (URL, depth) pair awaiting a fetch, per spec.md §3.
type FrontierEntry struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// Posting records one word occurrence on one fetched page, per spec.md §3.
type Posting struct {
	Word        string
	RelevantURL string
	OriginURL   string
	Depth       int
	Frequency   int
}

// Snapshot is the externally-visible view of a job, merging live runtime
// state with what is durable on disk, per spec.md §4.6.
type Snapshot struct {
	CrawlerID    string          `json:"crawler_id"`
	Origin       string          `json:"origin"`
	MaxDepth     int             `json:"max_depth"`
	HitRate      float64         `json:"hit_rate"`
	Status       Status          `json:"status"`
	VisitedCount int             `json:"visited_count"`
	CreatedAt    int64           `json:"created_at"`
	UpdatedAt    int64           `json:"updated_at"`
	Queue        []FrontierEntry `json:"queue"`
	Logs         []string        `json:"logs"`
}

// StatusFile is the on-disk JSON document at crawlers/{id}.status.
type StatusFile struct {
	CrawlerID        string  `json:"crawler_id"`
	Origin           string  `json:"origin"`
	MaxDepth         int     `json:"max_depth"`
	HitRate          float64 `json:"hit_rate"`
	MaxQueueCapacity int     `json:"max_queue_capacity"`
	MaxURLsToVisit   int     `json:"max_urls_to_visit"`
	Status           Status  `json:"status"`
	VisitedCount     int     `json:"visited_count"`
	CreatedAt        int64   `json:"created_at"`
	UpdatedAt        int64   `json:"updated_at"`
}

// Now is the single clock used for timestamps, kept as a variable so
// tests can substitute a deterministic clock.
var Now = func() time.Time { return time.Now() }
