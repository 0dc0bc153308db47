// Package search implements the paginated query evaluator of
// spec.md §4.4: it tokenizes a query the same way the extractor does,
// scans the matching shard for each token with progressive prefix
// matching, scores and ranks merged results deterministically, and
// serves the "lucky" random_word lookup.
//
// Grounded on query_engine/engine.go's shard-scan-and-rank shape,
// rewritten to spec.md's exact score formula (frequency*10 +
// max(0,100-depth) + exact_match_bonus) rather than the teacher's own
// ranking heuristic.
package search

import (
	"bufio"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"crawlhub/internal/apperr"
	"crawlhub/internal/htmlextract"
	"crawlhub/internal/index"
)

// Hit is one ranked result row.
type Hit struct {
	Word        string
	RelevantURL string
	OriginURL   string
	Depth       int
	Frequency   int
	Score       int
}

// Result is the full response of a Search call.
type Result struct {
	Total      int
	QueryWords []string
	Hits       []Hit
}

// Engine evaluates queries against the index shards written by
// internal/index.
type Engine struct {
	idx *index.Writer
}

// New constructs an Engine reading shards from idx's storage directory.
func New(idx *index.Writer) *Engine {
	return &Engine{idx: idx}
}

// Search tokenizes query identically to the extractor, scans every
// token's shard for prefix matches, scores and ranks the union, and
// returns the [offset, offset+limit) page.
func (e *Engine) Search(query string, limit, offset int) (Result, error) {
	words := htmlextract.TokenizeQuery(query)
	if len(words) == 0 {
		return Result{QueryWords: words}, nil
	}

	shardLetters := make(map[string]bool)
	for _, w := range words {
		shardLetters[index.ShardLetter(w)] = true
	}

	var hits []Hit
	for letter := range shardLetters {
		lines, err := e.readShard(letter)
		if err != nil {
			return Result{}, apperr.Wrap(apperr.KindPersistenceError, "read shard "+letter, err)
		}
		for _, line := range lines {
			p, ok := parsePostingLine(line)
			if !ok {
				continue
			}
			if matched, exact := matchesAnyToken(p.word, words); matched {
				hits = append(hits, Hit{
					Word:        p.word,
					RelevantURL: p.relevantURL,
					OriginURL:   p.originURL,
					Depth:       p.depth,
					Frequency:   p.frequency,
					Score:       score(p.frequency, p.depth, exact),
				})
			}
		}
	}

	total := len(hits)
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Word != hits[j].Word {
			return hits[i].Word < hits[j].Word
		}
		return hits[i].RelevantURL < hits[j].RelevantURL
	})

	if offset > len(hits) {
		offset = len(hits)
	}
	end := offset + limit
	if end > len(hits) || limit <= 0 {
		end = len(hits)
	}

	return Result{Total: total, QueryWords: words, Hits: hits[offset:end]}, nil
}

// score implements spec.md §4.4's deterministic ranking formula.
// Constants: 10 points per occurrence, up to 100 points for shallow
// depth, a flat 50-point bonus for an exact (non-prefix) match.
func score(frequency, depth int, exact bool) int {
	s := frequency*10 + max0(100-depth)
	if exact {
		s += 50
	}
	return s
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func matchesAnyToken(word string, tokens []string) (matched bool, exact bool) {
	for _, tok := range tokens {
		if word == tok {
			return true, true
		}
		if strings.HasPrefix(word, tok) {
			matched = true
		}
	}
	return matched, false
}

type postingLine struct {
	word        string
	relevantURL string
	originURL   string
	depth       int
	frequency   int
}

// parsePostingLine parses "{word} {relevant_url} {origin_url} {depth} {freq}".
func parsePostingLine(line string) (postingLine, bool) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return postingLine{}, false
	}
	depth, err1 := strconv.Atoi(fields[3])
	freq, err2 := strconv.Atoi(fields[4])
	if err1 != nil || err2 != nil {
		return postingLine{}, false
	}
	return postingLine{
		word:        fields[0],
		relevantURL: fields[1],
		originURL:   fields[2],
		depth:       depth,
		frequency:   freq,
	}, true
}

func (e *Engine) readShard(letter string) ([]string, error) {
	path := filepath.Join(e.idx.Dir(), letter+".data")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// RandomWord picks a uniform-random non-empty shard, then a
// uniform-random line within it, and returns that line's word, per
// spec.md §4.4's "lucky" UI path.
func (e *Engine) RandomWord() (string, error) {
	letters, err := e.idx.Shards()
	if err != nil {
		return "", apperr.Wrap(apperr.KindPersistenceError, "list shards", err)
	}

	var nonEmpty []string
	shardLines := make(map[string][]string)
	for _, letter := range letters {
		lines, err := e.readShard(letter)
		if err != nil {
			return "", apperr.Wrap(apperr.KindPersistenceError, "read shard "+letter, err)
		}
		if len(lines) > 0 {
			nonEmpty = append(nonEmpty, letter)
			shardLines[letter] = lines
		}
	}
	if len(nonEmpty) == 0 {
		return "", apperr.New(apperr.KindNotFound, "index is empty")
	}

	letter := nonEmpty[rand.Intn(len(nonEmpty))]
	lines := shardLines[letter]
	line := lines[rand.Intn(len(lines))]

	p, ok := parsePostingLine(line)
	if !ok {
		return "", apperr.New(apperr.KindPersistenceError, "corrupt posting line in shard "+letter)
	}
	return p.word, nil
}
