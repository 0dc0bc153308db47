package job

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crawlhub/internal/index"
	"crawlhub/internal/logging"
	"crawlhub/internal/model"
	"crawlhub/internal/visited"
)

func newHarness(t *testing.T) (dir string, vis *visited.Registry, idx *index.Writer) {
	t.Helper()
	dir = t.TempDir()
	var err error
	vis, err = visited.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	idx, err = index.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, vis, idx
}

func waitFinished(t *testing.T, r *Runtime, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(timeout):
		t.Fatalf("job %s did not finish within %s (status=%s)", r.ID, timeout, r.Status())
	}
}

func TestHappyPathCrawlsOriginAndLink(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, `<html><body><a href="%s/a">hello world</a></body></html>`, srv.URL)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `<html><body>another page</body></html>`)
	})

	dir, vis, idx := newHarness(t)
	cfg := model.Config{Origin: srv.URL + "/", MaxDepth: 1, HitRate: 1000, MaxQueueCapacity: 100, MaxURLsToVisit: 2}
	r := New("job1", cfg, dir, vis, idx, nil, logging.Nop())
	waitFinished(t, r, 5*time.Second)

	if r.Status() != model.StatusFinished {
		t.Errorf("expected Finished, got %s", r.Status())
	}
	if r.VisitedCount() != 2 {
		t.Errorf("expected 2 visited URLs, got %d", r.VisitedCount())
	}
	if !vis.Contains(srv.URL + "/") {
		t.Error("expected origin marked visited")
	}
	if !vis.Contains(srv.URL + "/a") {
		t.Error("expected linked page marked visited")
	}
}

func TestDepthCutoffNeverEnqueuesBeyondMaxDepth(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, `<html><body><a href="%s/a">a</a></body></html>`, srv.URL)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, `<html><body><a href="%s/b">b</a></body></html>`, srv.URL)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `<html><body>deep</body></html>`)
	})

	dir, vis, idx := newHarness(t)
	cfg := model.Config{Origin: srv.URL + "/", MaxDepth: 1, HitRate: 1000, MaxQueueCapacity: 100, MaxURLsToVisit: 0}
	r := New("job1", cfg, dir, vis, idx, nil, logging.Nop())
	waitFinished(t, r, 5*time.Second)

	if vis.Contains(srv.URL + "/b") {
		t.Error("/b exceeds max_depth and must never be visited")
	}
	if !vis.Contains(srv.URL + "/a") {
		t.Error("/a is within max_depth and should have been visited")
	}
}

func TestQueueOverflowAcceptsOnlyCapacityAndRejectsRest(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		var b []byte
		b = append(b, []byte("<html><body>")...)
		for i := 0; i < 10; i++ {
			b = append(b, []byte(fmt.Sprintf(`<a href="%s/p%d">p%d</a>`, srv.URL, i, i))...)
		}
		b = append(b, []byte("</body></html>")...)
		w.Write(b)
	})
	for i := 0; i < 10; i++ {
		mux.HandleFunc(fmt.Sprintf("/p%d", i), func(w http.ResponseWriter, req *http.Request) {
			fmt.Fprint(w, "<html><body>leaf</body></html>")
		})
	}

	dir, vis, idx := newHarness(t)
	// Capacity 3: the origin occupies a push slot first, so after it's
	// dequeued the 10 discovered links compete for the remaining queue
	// capacity of 3.
	cfg := model.Config{Origin: srv.URL + "/", MaxDepth: 1, HitRate: 1000, MaxQueueCapacity: 3, MaxURLsToVisit: 0}
	r := New("job1", cfg, dir, vis, idx, nil, logging.Nop())
	waitFinished(t, r, 5*time.Second)

	// visited_count = 1 (origin) + however many of the 10 links fit
	// through a capacity-3 queue; at most 3 leaves are ever visited.
	if r.VisitedCount() > 4 {
		t.Errorf("expected at most 4 visited (origin + <=3 leaves), got %d", r.VisitedCount())
	}

	rejected := 0
	for _, line := range r.Snapshot().Logs {
		if strings.Contains(line, "queue rejected") {
			rejected++
		}
	}
	if rejected != 7 {
		t.Errorf("expected 7 rejection log entries, got %d", rejected)
	}
}

func TestPauseThenResumeTransitionsAndCompletes(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, `<html><body><a href="%s/a">a</a></body></html>`, srv.URL)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, "<html><body>leaf</body></html>")
	})

	dir, vis, idx := newHarness(t)
	cfg := model.Config{Origin: srv.URL + "/", MaxDepth: 5, HitRate: 2, MaxQueueCapacity: 100, MaxURLsToVisit: 0}
	r := New("job1", cfg, dir, vis, idx, nil, logging.Nop())

	if err := r.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if r.Status() != model.StatusPaused {
		t.Fatalf("expected Paused, got %s", r.Status())
	}

	if err := r.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if r.Status() != model.StatusActive && r.Status() != model.StatusFinished {
		t.Fatalf("expected Active or Finished after resume, got %s", r.Status())
	}
	waitFinished(t, r, 5*time.Second)
}

func TestStopCancelsAndTransitionsToStopped(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, "<html><body>leaf</body></html>")
	})

	dir, vis, idx := newHarness(t)
	cfg := model.Config{Origin: srv.URL + "/", MaxDepth: 5, HitRate: 1000, MaxQueueCapacity: 100, MaxURLsToVisit: 0}
	r := New("job1", cfg, dir, vis, idx, nil, logging.Nop())

	// Racing the dispatcher: if the job already finished, Stop returns an
	// IllegalTransition; otherwise it must succeed and land in Stopped.
	err := r.Stop()
	if err != nil && r.Status() != model.StatusFinished {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if err == nil && r.Status() != model.StatusStopped {
		t.Errorf("expected Stopped after a successful stop, got %s", r.Status())
	}
	waitFinished(t, r, 5*time.Second)
}

func TestPauseOnNonActiveIsIllegalTransition(t *testing.T) {
	dir, vis, idx := newHarness(t)
	cfg := model.Config{Origin: "http://example.invalid/", MaxDepth: 1, HitRate: 1000, MaxQueueCapacity: 100, MaxURLsToVisit: 1}
	r := New("job1", cfg, dir, vis, idx, nil, logging.Nop())
	r.Stop()

	if err := r.Pause(); err == nil {
		t.Error("expected pause on a Stopped job to fail")
	}
}

func TestStatusPersistedToDisk(t *testing.T) {
	dir, vis, idx := newHarness(t)
	cfg := model.Config{Origin: "http://example.invalid/", MaxDepth: 1, HitRate: 1000, MaxQueueCapacity: 100, MaxURLsToVisit: 1}
	r := New("job1", cfg, dir, vis, idx, nil, logging.Nop())
	waitFinished(t, r, 5*time.Second)

	path := filepath.Join(dir, "crawlers", "job1.status")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected status file to exist: %v", err)
	}

	sf, err := LoadStatusFile(dir, "job1")
	if err != nil {
		t.Fatal(err)
	}
	if sf.CrawlerID != "job1" {
		t.Errorf("expected crawler id job1, got %s", sf.CrawlerID)
	}
}
