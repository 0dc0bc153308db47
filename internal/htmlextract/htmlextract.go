// Package htmlextract turns raw page bytes into outbound links and word
// token counts, without trusting the server's declared Content-Type.
//
// Grounded on the teacher's extractTitle (main.go) and CleanHTML
// (text_processor.go), both built on golang.org/x/net/html, generalized
// per spec.md §4.2: link discovery widens from <a href> alone to
// <a href>/<img src>/<script src>/<iframe src>, and script/style
// subtrees are skipped rather than merely not-tokenized.
package htmlextract

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/net/html"

	"crawlhub/internal/urlnorm"
)

// Result holds the output of extracting a single document.
type Result struct {
	Links  []string       // de-duplicated, normalized, in discovery order
	Tokens map[string]int // lowercase word -> occurrence count
}

var linkAttrsByTag = map[string]string{
	"a":      "href",
	"img":    "src",
	"script": "src",
	"iframe": "src",
}

// Extract decodes body as UTF-8 (replacing invalid sequences), walks the
// parsed tree, and returns the links and word tokens it contains. It
// never panics and never returns an error: malformed HTML degrades to
// partial or empty output, matching spec.md §4.2's tolerance
// requirement.
func Extract(body []byte, baseURL string) Result {
	res := Result{Tokens: make(map[string]int)}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return res
	}

	seen := make(map[string]bool)
	var text strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if attr, ok := linkAttrsByTag[n.Data]; ok {
				if v, found := attrValue(n, attr); found {
					if link, ok := urlnorm.Normalize(decodeEntities(v), baseURL); ok {
						if !seen[link] {
							seen[link] = true
							res.Links = append(res.Links, link)
						}
					}
				}
			}
			switch n.Data {
			case "script", "style":
				return // skip contents: never tokenized (a script's src was read above)
			}
		}
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
			text.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	tokenize(text.String(), res.Tokens)
	return res
}

// TokenizeQuery applies the extractor's word-tokenization rule to a
// search query string, returning distinct tokens in first-seen order.
// spec.md §4.4 requires queries to be "tokenized identically to the
// extractor".
func TokenizeQuery(text string) []string {
	seen := make(map[string]bool)
	var order []string
	var cur []rune
	flush := func() {
		if len(cur) >= 2 {
			w := string(cur)
			if !seen[w] {
				seen[w] = true
				order = append(order, w)
			}
		}
		cur = cur[:0]
	}
	for _, r := range text {
		if unicode.IsLetter(r) {
			cur = append(cur, unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return order
}

func attrValue(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val), a.Val != ""
		}
	}
	return "", false
}

// tokenize splits text into maximal runs of Unicode letters, lower-cases
// them, and counts occurrences of those at least 2 runes long. The
// x/net/html tokenizer already decodes standard entities in text nodes
// and attribute values, so no separate entity pass is needed there.
func tokenize(text string, counts map[string]int) {
	var cur []rune
	flush := func() {
		if len(cur) >= 2 {
			counts[string(cur)]++
		}
		cur = cur[:0]
	}
	for _, r := range text {
		if unicode.IsLetter(r) {
			cur = append(cur, unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
}

// decodeEntities covers the entity forms spec.md §4.2 calls out
// explicitly for attribute values that bypass the tokenizer's own
// decoding (link hrefs are read from n.Attr, which x/net/html has
// already unescaped, so this is a defensive second pass for anything
// handed to us pre-escaped by an upstream cache or proxy).
func decodeEntities(s string) string {
	return html.UnescapeString(s)
}
