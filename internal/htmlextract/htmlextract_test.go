package htmlextract

import "testing"

func TestExtractLinksAndTokens(t *testing.T) {
	doc := []byte(`<html><head><title>Hi &amp; Bye</title>
<style>.x { color: red; }</style>
<script>var a = 1;</script>
</head><body>
<a href="/a">Alpha</a>
<a href="https://other.com/b">Beta</a>
<img src="/img.png">
<p>hello hello world 42 a&amp;b</p>
</body></html>`)

	res := Extract(doc, "http://example.com/")

	if len(res.Links) != 3 {
		t.Fatalf("expected 3 links, got %d: %v", len(res.Links), res.Links)
	}
	want := map[string]bool{
		"http://example.com/a":  true,
		"https://other.com/b":   true,
		"http://example.com/img.png": true,
	}
	for _, l := range res.Links {
		if !want[l] {
			t.Errorf("unexpected link %q", l)
		}
	}

	if res.Tokens["hello"] != 2 {
		t.Errorf("expected hello=2, got %d", res.Tokens["hello"])
	}
	if res.Tokens["world"] != 1 {
		t.Errorf("expected world=1, got %d", res.Tokens["world"])
	}
	if _, ok := res.Tokens["42"]; ok {
		t.Error("numeric token should be dropped")
	}
	if _, ok := res.Tokens["color"]; ok {
		t.Error("style contents must not be tokenized")
	}
	if _, ok := res.Tokens["var"]; ok {
		t.Error("script contents must not be tokenized")
	}
}

func TestExtractMalformedNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		[]byte("not html at all"),
		{0xff, 0xfe, 0x00, 0x01, 0x02},
		[]byte("<div><span>unterminated"),
	}
	for _, in := range inputs {
		res := Extract(in, "http://example.com/")
		_ = res // must not panic; empty output is acceptable
	}
}

func TestExtractSingleCharTokensDropped(t *testing.T) {
	res := Extract([]byte("<p>a b cd</p>"), "http://example.com/")
	if _, ok := res.Tokens["a"]; ok {
		t.Error("single-char token should be dropped")
	}
	if res.Tokens["cd"] != 1 {
		t.Error("expected 2+ char token kept")
	}
}

func TestTokenizeQueryMatchesExtractorRules(t *testing.T) {
	words := TokenizeQuery("Python is fun, fun!")
	want := []string{"python", "is", "fun"}
	if len(words) != len(want) {
		t.Fatalf("expected %v, got %v", want, words)
	}
	for i, w := range want {
		if words[i] != w {
			t.Errorf("expected %v, got %v", want, words)
			break
		}
	}
}
