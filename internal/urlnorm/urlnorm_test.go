package urlnorm

import "testing"

func TestNormalizeEquivalences(t *testing.T) {
	cases := []struct {
		name string
		a, b string
	}{
		{"fragment", "http://Example.com/path#section", "http://example.com/path"},
		{"default-port-http", "http://example.com:80/path", "http://example.com/path"},
		{"default-port-https", "https://example.com:443/path", "https://example.com/path"},
		{"trailing-host-dot", "http://example.com./path", "http://example.com/path"},
		{"scheme-case", "HTTP://example.com/path", "http://example.com/path"},
		{"dot-segments", "http://example.com/a/../b", "http://example.com/b"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := Normalize(c.a, "")
			if !ok {
				t.Fatalf("Normalize(%q) rejected", c.a)
			}
			want, ok := Normalize(c.b, "")
			if !ok {
				t.Fatalf("Normalize(%q) rejected", c.b)
			}
			if got != want {
				t.Errorf("Normalize(%q)=%q, Normalize(%q)=%q, want equal", c.a, got, c.b, want)
			}
		})
	}
}

func TestNormalizeRejections(t *testing.T) {
	cases := []string{
		"",
		"mailto:foo@example.com",
		"javascript:alert(1)",
		"data:text/plain;base64,aGVsbG8=",
		"/relative/no/base",
		"://broken",
	}
	for _, raw := range cases {
		if _, ok := Normalize(raw, ""); ok {
			t.Errorf("Normalize(%q) unexpectedly accepted", raw)
		}
	}
}

func TestNormalizeRelativeResolution(t *testing.T) {
	got, ok := Normalize("/a/b", "http://example.com/x/y")
	if !ok {
		t.Fatal("expected relative URL to resolve against base")
	}
	if got != "http://example.com/a/b" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeBrokenBase(t *testing.T) {
	if _, ok := Normalize("/a", "not a url"); ok {
		t.Error("expected rejection for broken base")
	}
	if _, ok := Normalize("/a", "mailto:foo@example.com"); ok {
		t.Error("expected rejection for non-absolute-http base")
	}
}

func TestNormalizeEmptyHost(t *testing.T) {
	if _, ok := Normalize("http:///path", ""); ok {
		t.Error("expected rejection for empty host")
	}
}
