// Package retrieval queries an external knowledge store and shapes queries
// for it: normalization and key-term extraction, synonym-based expansion, and
// a two-attempt retrieval strategy with graceful degradation. Retrieval is
// strictly optional for the gateway; every failure here degrades to the
// caller-provided fallback context.
package retrieval

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// maxQueryLength bounds the preprocessed query sent to the store.
	maxQueryLength = 150
	// maxKeyTerms bounds how many terms feed expansion.
	maxKeyTerms = 5
	// maxSynonymsPerTerm caps the synonym list per expanded term.
	maxSynonymsPerTerm = 3
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// An embeddable interrogative clause: a question-initiating word followed
	// by 1-20 words and a question mark. The densest retrieval signal inside
	// rambling input.
	interrogativeRe = regexp.MustCompile(`(?i)\b(?:what|how|why|when|where|who|which|can|could|would|should|is|are|do|does|did|will)(?:\s+[^\s?]+){1,20}\?`)
	fillerRe        = regexp.MustCompile(`(?i)\b(?:um|uh|uhm|er|erm|so|well|like|just|actually|basically|literally|really|okay|ok|hmm|please|anyway|right)\b`)
	tokenSplitRe    = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	numericRe       = regexp.MustCompile(`^[0-9]+$`)
)

// stopWords is the ~120-word list dropped during key-term extraction.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"shall": true, "may": true, "might": true, "must": true, "can": true,
	"cannot": true, "i": true, "me": true, "my": true, "mine": true,
	"you": true, "your": true, "yours": true, "he": true, "him": true,
	"his": true, "she": true, "her": true, "hers": true, "it": true,
	"its": true, "we": true, "us": true, "our": true, "ours": true,
	"they": true, "them": true, "their": true, "theirs": true, "what": true,
	"which": true, "who": true, "whom": true, "whose": true, "this": true,
	"that": true, "these": true, "those": true, "am": true, "to": true,
	"of": true, "in": true, "for": true, "on": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "into": true,
	"onto": true, "through": true, "during": true, "before": true, "after": true,
	"above": true, "below": true, "between": true, "among": true, "under": true,
	"over": true, "again": true, "further": true, "then": true, "once": true,
	"and": true, "or": true, "but": true, "nor": true, "not": true,
	"no": true, "yes": true, "if": true, "else": true, "than": true,
	"too": true, "very": true, "just": true, "about": true, "against": true,
	"because": true, "while": true, "although": true, "though": true, "how": true,
	"why": true, "when": true, "where": true, "there": true, "here": true,
	"all": true, "any": true, "both": true, "each": true, "few": true,
	"more": true, "most": true, "other": true, "some": true, "such": true,
	"only": true, "own": true, "same": true, "so": true, "up": true,
	"down": true, "out": true, "off": true, "also": true, "please": true,
}

// synonymTable backs rule-based expansion. Lookup is exact match first, then
// substring containment in either direction.
var synonymTable = map[string][]string{
	"build":     {"create", "construct", "develop"},
	"capital":   {"main city", "seat of government"},
	"change":    {"modify", "update", "alter"},
	"compare":   {"contrast", "versus", "difference"},
	"configure": {"set up", "adjust", "tune"},
	"create":    {"build", "generate", "make"},
	"delete":    {"remove", "erase", "drop"},
	"error":     {"failure", "fault", "issue"},
	"example":   {"instance", "sample", "demonstration"},
	"explain":   {"describe", "clarify", "elaborate"},
	"fast":      {"quick", "rapid", "speedy"},
	"fix":       {"repair", "resolve", "correct"},
	"implement": {"create", "build", "develop"},
	"improve":   {"enhance", "optimize", "refine"},
	"install":   {"set up", "deploy", "add"},
	"locate":    {"find", "search", "discover"},
	"method":    {"approach", "technique", "procedure"},
	"price":     {"cost", "fee", "rate"},
	"problem":   {"issue", "challenge", "difficulty"},
	"report":    {"summary", "overview", "statement"},
	"require":   {"need", "demand", "depend on"},
	"start":     {"begin", "launch", "initiate"},
	"stop":      {"halt", "end", "terminate"},
	"weather":   {"forecast", "climate", "conditions"},
	"work":      {"function", "operate", "run"},
}

// sortedSynonymKeys keeps containment scans deterministic.
var sortedSynonymKeys = func() []string {
	keys := make([]string, 0, len(synonymTable))
	for k := range synonymTable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}()

// Diagnostics is a side-effect-free comparison record for one retrieval
// attempt. Observability only; it never drives control flow.
type Diagnostics struct {
	OriginalLength   int  `json:"original_length"`
	ProcessedLength  int  `json:"processed_length"`
	LengthDelta      int  `json:"length_delta"`
	CitationCount    int  `json:"citation_count"`
	LookedSuccessful bool `json:"looked_successful"`
}

// Optimizer holds the pure text transforms applied to retrieval queries.
type Optimizer struct {
	logger *zap.Logger
}

// NewOptimizer creates an Optimizer. A nil logger falls back to a no-op.
func NewOptimizer(logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{logger: logger.With(zap.String("component", "query_optimizer"))}
}

// Preprocess normalizes a raw query for retrieval. Whitespace runs collapse
// to single spaces. If the text embeds an interrogative clause, that clause
// is returned verbatim. Otherwise filler words are stripped, the text is
// truncated to 150 characters, and a question mark is appended when no
// terminal punctuation is present.
func (o *Optimizer) Preprocess(raw string) string {
	collapsed := whitespaceRe.ReplaceAllString(strings.TrimSpace(raw), " ")
	if collapsed == "" {
		return ""
	}

	if clause := interrogativeRe.FindString(collapsed); clause != "" {
		return clause
	}

	cleaned := whitespaceRe.ReplaceAllString(fillerRe.ReplaceAllString(collapsed, ""), " ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		cleaned = collapsed
	}

	if utf8.RuneCountInString(cleaned) > maxQueryLength {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxQueryLength]))
	}

	if !strings.HasSuffix(cleaned, "?") && !strings.HasSuffix(cleaned, ".") && !strings.HasSuffix(cleaned, "!") {
		cleaned += "?"
	}
	return cleaned
}

// ExtractKeyTerms lower-cases and tokenizes the query, drops stop words,
// pure numbers and tokens of three characters or fewer, then returns at most
// five terms deduplicated in first-seen order.
func (o *Optimizer) ExtractKeyTerms(query string) []string {
	tokens := tokenSplitRe.Split(strings.ToLower(query), -1)
	seen := make(map[string]bool, len(tokens))
	terms := make([]string, 0, maxKeyTerms)

	for _, tok := range tokens {
		if tok == "" || stopWords[tok] || numericRe.MatchString(tok) {
			continue
		}
		if utf8.RuneCountInString(tok) <= 3 {
			continue
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
		if len(terms) == maxKeyTerms {
			break
		}
	}
	return terms
}

// Expand broadens the retrieval surface for a query that produced a weak
// first attempt. Each key term gains up to three synonyms from the static
// table; the result wraps the original query with the synonym context. This
// is a recall heuristic, not a guarantee.
func (o *Optimizer) Expand(query string) string {
	terms := o.ExtractKeyTerms(query)

	var entries []string
	for _, term := range terms {
		syns := synonymsFor(term)
		if len(syns) == 0 {
			continue
		}
		entries = append(entries, term+" ("+strings.Join(syns, ", ")+")")
	}

	expanded := "Find information related to: " + query
	if len(entries) > 0 {
		expanded += " | Additional context: " + strings.Join(entries, ", ")
	}

	o.logger.Debug("query expanded",
		zap.String("query", query),
		zap.Int("terms_with_synonyms", len(entries)))
	return expanded
}

// Diagnostics builds the observability record for one attempt. "Looked
// successful" is the fixed length heuristic the attempt comparison also
// reports against.
func (o *Optimizer) Diagnostics(original, processed, responseText string, citations []Citation) Diagnostics {
	return Diagnostics{
		OriginalLength:   utf8.RuneCountInString(original),
		ProcessedLength:  utf8.RuneCountInString(processed),
		LengthDelta:      utf8.RuneCountInString(processed) - utf8.RuneCountInString(original),
		CitationCount:    len(citations),
		LookedSuccessful: utf8.RuneCountInString(responseText) > 100,
	}
}

func synonymsFor(term string) []string {
	if syns, ok := synonymTable[term]; ok {
		return capSynonyms(syns)
	}

	var matched []string
	for _, key := range sortedSynonymKeys {
		if strings.Contains(term, key) || strings.Contains(key, term) {
			matched = append(matched, synonymTable[key]...)
			if len(matched) >= maxSynonymsPerTerm {
				break
			}
		}
	}
	return capSynonyms(matched)
}

func capSynonyms(syns []string) []string {
	if len(syns) > maxSynonymsPerTerm {
		return syns[:maxSynonymsPerTerm]
	}
	return syns
}
