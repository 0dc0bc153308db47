package index

import (
	"os"
	"path/filepath"
	"testing"

	"crawlhub/internal/model"
)

func TestShardLetter(t *testing.T) {
	cases := map[string]string{
		"python": "p",
		"Zebra":  "z",
		"":       "u0",
		"café":   string(rune(99)), // "c" from café's first rune
	}
	for word, want := range cases {
		if got := ShardLetter(word); got != want {
			t.Errorf("ShardLetter(%q) = %q, want %q", word, got, want)
		}
	}
	if got := ShardLetter("日本"); got != "u65e5" {
		t.Errorf("ShardLetter(non-ASCII) = %q, want u65e5", got)
	}
}

func TestAppendWritesLineAtomicPostings(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	postings := []model.Posting{
		{Word: "python", RelevantURL: "http://a", OriginURL: "/origin", Depth: 1, Frequency: 5},
		{Word: "pythonic", RelevantURL: "http://c", OriginURL: "/origin", Depth: 2, Frequency: 4},
		{Word: "java", RelevantURL: "http://b", OriginURL: "/origin", Depth: 1, Frequency: 1},
	}
	if err := w.Append(postings); err != nil {
		t.Fatal(err)
	}

	pData, err := os.ReadFile(filepath.Join(dir, "storage", "p.data"))
	if err != nil {
		t.Fatal(err)
	}
	want := "python http://a /origin 1 5\npythonic http://c /origin 2 4\n"
	if string(pData) != want {
		t.Errorf("p.data mismatch:\ngot:  %q\nwant: %q", string(pData), want)
	}

	jData, err := os.ReadFile(filepath.Join(dir, "storage", "j.data"))
	if err != nil {
		t.Fatal(err)
	}
	if string(jData) != "java http://b /origin 1 1\n" {
		t.Errorf("j.data mismatch: %q", string(jData))
	}
}

func TestAppendNeverCompactsOrDedups(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	p := model.Posting{Word: "python", RelevantURL: "http://a", OriginURL: "/origin", Depth: 1, Frequency: 5}
	if err := w.Append([]model.Posting{p}); err != nil {
		t.Fatal(err)
	}
	if err := w.Append([]model.Posting{p}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "storage", "p.data"))
	if err != nil {
		t.Fatal(err)
	}
	want := "python http://a /origin 1 5\npython http://a /origin 1 5\n"
	if string(data) != want {
		t.Errorf("expected two duplicate lines, got %q", string(data))
	}
}

func TestShardsListsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	w.Append([]model.Posting{{Word: "alpha", RelevantURL: "u", OriginURL: "o", Depth: 0, Frequency: 1}})
	w.Append([]model.Posting{{Word: "beta", RelevantURL: "u", OriginURL: "o", Depth: 0, Frequency: 1}})

	shards, err := w.Shards()
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 2 {
		t.Errorf("expected 2 shard files, got %v", shards)
	}
}
