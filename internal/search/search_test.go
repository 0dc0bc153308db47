package search

import (
	"testing"

	"crawlhub/internal/index"
	"crawlhub/internal/model"
)

func newEngine(t *testing.T) (*Engine, *index.Writer) {
	t.Helper()
	dir := t.TempDir()
	w, err := index.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return New(w), w
}

func TestSearchRankingMatchesSpecExample(t *testing.T) {
	e, w := newEngine(t)
	postings := []model.Posting{
		{Word: "python", RelevantURL: "http://a", OriginURL: "/origin", Depth: 1, Frequency: 5},
		{Word: "python", RelevantURL: "http://b", OriginURL: "/origin", Depth: 3, Frequency: 2},
		{Word: "pythonic", RelevantURL: "http://c", OriginURL: "/origin", Depth: 2, Frequency: 4},
	}
	if err := w.Append(postings); err != nil {
		t.Fatal(err)
	}

	res, err := e.Search("python", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 {
		t.Fatalf("expected 3 total matches, got %d", res.Total)
	}
	if len(res.Hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(res.Hits))
	}

	wantOrder := []string{"http://a", "http://b", "http://c"}
	wantScores := []int{199, 167, 138}
	for i, h := range res.Hits {
		if h.RelevantURL != wantOrder[i] {
			t.Errorf("position %d: expected %s, got %s", i, wantOrder[i], h.RelevantURL)
		}
		if h.Score != wantScores[i] {
			t.Errorf("position %d: expected score %d, got %d", i, wantScores[i], h.Score)
		}
	}
}

func TestSearchPrefixMatchAcrossTokens(t *testing.T) {
	e, w := newEngine(t)
	w.Append([]model.Posting{
		{Word: "cat", RelevantURL: "http://a", OriginURL: "/o", Depth: 0, Frequency: 1},
		{Word: "category", RelevantURL: "http://b", OriginURL: "/o", Depth: 0, Frequency: 1},
		{Word: "dog", RelevantURL: "http://c", OriginURL: "/o", Depth: 0, Frequency: 1},
	})

	res, err := e.Search("cat", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 {
		t.Errorf("expected cat+category to match, got total=%d", res.Total)
	}
}

func TestSearchPagination(t *testing.T) {
	e, w := newEngine(t)
	w.Append([]model.Posting{
		{Word: "word", RelevantURL: "http://1", OriginURL: "/o", Depth: 0, Frequency: 10},
		{Word: "word", RelevantURL: "http://2", OriginURL: "/o", Depth: 0, Frequency: 9},
		{Word: "word", RelevantURL: "http://3", OriginURL: "/o", Depth: 0, Frequency: 8},
	})

	res, err := e.Search("word", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 {
		t.Errorf("expected total=3 regardless of paging, got %d", res.Total)
	}
	if len(res.Hits) != 1 || res.Hits[0].RelevantURL != "http://2" {
		t.Errorf("expected second-ranked hit on page offset=1, got %+v", res.Hits)
	}
}

func TestSearchEmptyQueryReturnsEmptyResult(t *testing.T) {
	e, _ := newEngine(t)
	res, err := e.Search("!!!", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 0 || len(res.Hits) != 0 {
		t.Errorf("expected empty result for a query with no tokens, got %+v", res)
	}
}

func TestRandomWordReturnsAKnownWord(t *testing.T) {
	e, w := newEngine(t)
	w.Append([]model.Posting{
		{Word: "alpha", RelevantURL: "http://a", OriginURL: "/o", Depth: 0, Frequency: 1},
	})
	word, err := e.RandomWord()
	if err != nil {
		t.Fatal(err)
	}
	if word != "alpha" {
		t.Errorf("expected alpha, got %s", word)
	}
}

func TestRandomWordOnEmptyIndexReturnsNotFound(t *testing.T) {
	e, _ := newEngine(t)
	if _, err := e.RandomWord(); err == nil {
		t.Error("expected not-found error on an empty index")
	}
}
