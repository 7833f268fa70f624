package memory

import (
	"context"
	"regexp"
	"strings"
	"sync"
)

// FactCategory buckets extracted facts.
type FactCategory string

const (
	CategoryIdentity     FactCategory = "identity"
	CategoryLocation     FactCategory = "location"
	CategoryWork         FactCategory = "work"
	CategoryPreference   FactCategory = "preference"
	CategoryRelationship FactCategory = "relationship"
	CategoryInstruction  FactCategory = "instruction"
	CategoryPersonal     FactCategory = "personal"
)

// Fact is one extracted statement about the user.
type Fact struct {
	Category   FactCategory `json:"category"`
	Fact       string       `json:"fact"`
	Confidence float64      `json:"confidence"`
	Method     string       `json:"method"` // pattern or vector
}

type factPattern struct {
	category   FactCategory
	re         *regexp.Regexp
	confidence float64
	prefix     string
}

// factPatterns is ranked: earlier entries win dedup ties within a category.
var factPatterns = []factPattern{
	{CategoryIdentity, regexp.MustCompile(`(?i)\bmy name is ([a-z][a-z '-]+)`), 0.95, "name is "},
	{CategoryIdentity, regexp.MustCompile(`(?i)\bcall me ([a-z][a-z '-]+)`), 0.85, "goes by "},
	{CategoryLocation, regexp.MustCompile(`(?i)\bi live in ([a-z][a-z '-]+)`), 0.9, "lives in "},
	{CategoryLocation, regexp.MustCompile(`(?i)\bi(?:'m| am) from ([a-z][a-z '-]+)`), 0.85, "from "},
	{CategoryLocation, regexp.MustCompile(`(?i)\bi moved to ([a-z][a-z '-]+)`), 0.85, "moved to "},
	{CategoryWork, regexp.MustCompile(`(?i)\bi work (?:at|for) ([a-z0-9][a-z0-9 &'-]+)`), 0.9, "works at "},
	{CategoryWork, regexp.MustCompile(`(?i)\bi(?:'m| am) an? ([a-z][a-z /-]+?)(?: by trade| by profession| professionally)`), 0.85, "works as "},
	{CategoryWork, regexp.MustCompile(`(?i)\bmy job is ([^.!?\n]+)`), 0.8, "job is "},
	{CategoryRelationship, regexp.MustCompile(`(?i)\bmy (wife|husband|partner|son|daughter|mother|father|brother|sister|roommate) (?:is (?:named|called) )?([a-z][a-z '-]+)`), 0.85, "family: "},
	{CategoryInstruction, regexp.MustCompile(`(?i)\b(?:always|never|from now on,?) ([^.!?\n]+)`), 0.9, "rule: "},
	{CategoryInstruction, regexp.MustCompile(`(?i)\bremember (?:that )?([^.!?\n]+)`), 0.85, "remember "},
	{CategoryPersonal, regexp.MustCompile(`(?i)\bmy birthday is ([^.!?\n]+)`), 0.9, "birthday "},
	{CategoryPersonal, regexp.MustCompile(`(?i)\bi(?:'m| am) allergic to ([^.!?\n]+)`), 0.9, "allergic to "},
	{CategoryPersonal, regexp.MustCompile(`(?i)\bi(?:'m| am) (\d{1,3}) years old\b`), 0.9, "age "},
	{CategoryPreference, regexp.MustCompile(`(?i)\bi (?:love|really like|like|prefer|enjoy) ([^.!?\n]+)`), 0.8, "likes "},
	{CategoryPreference, regexp.MustCompile(`(?i)\bi (?:hate|dislike|can't stand|cannot stand) ([^.!?\n]+)`), 0.8, "dislikes "},
}

// canonicalTemplates anchor the vector fallback: user text that embeds close
// to a template is filed under its category.
var canonicalTemplates = []struct {
	category FactCategory
	text     string
}{
	{CategoryIdentity, "a statement about who the user is or what they are called"},
	{CategoryLocation, "a statement about where the user lives or comes from"},
	{CategoryWork, "a statement about the user's job, employer, or profession"},
	{CategoryPreference, "a statement about something the user likes or dislikes"},
	{CategoryRelationship, "a statement about the user's family or friends"},
	{CategoryInstruction, "an instruction about how the assistant should behave"},
	{CategoryPersonal, "a personal detail about the user such as age, birthday, or health"},
}

const (
	minVectorSimilarity = 0.65
	maxVectorConfidence = 0.85
)

// FactExtractor finds persistable facts in user text. Pattern matching runs
// first; an optional embedder provides a vector fallback for sentences no
// pattern covers.
type FactExtractor struct {
	embedder Embedder

	once            sync.Once
	templateVectors [][]float32
	templateErr     error
}

// NewFactExtractor creates an extractor. A nil embedder disables the vector
// fallback.
func NewFactExtractor(embedder Embedder) *FactExtractor {
	return &FactExtractor{embedder: embedder}
}

// Extract returns the deduplicated facts found in text. Extraction is
// idempotent: running it twice over the same text yields the same facts.
func (f *FactExtractor) Extract(ctx context.Context, text string) []Fact {
	var facts []Fact
	matched := false
	for _, p := range factPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			matched = true
			facts = append(facts, Fact{
				Category:   p.category,
				Fact:       p.prefix + strings.TrimSpace(strings.Join(m[1:], " ")),
				Confidence: p.confidence,
				Method:     "pattern",
			})
		}
	}

	if !matched && f.embedder != nil {
		if fact, ok := f.vectorFallback(ctx, text); ok {
			facts = append(facts, fact)
		}
	}
	return dedupeFacts(facts)
}

func (f *FactExtractor) vectorFallback(ctx context.Context, text string) (Fact, bool) {
	f.once.Do(func() {
		f.templateVectors = make([][]float32, len(canonicalTemplates))
		for i, tpl := range canonicalTemplates {
			v, err := f.embedder.Embed(ctx, tpl.text)
			if err != nil {
				f.templateErr = err
				return
			}
			f.templateVectors[i] = v
		}
	})
	if f.templateErr != nil {
		return Fact{}, false
	}

	vec, err := f.embedder.Embed(ctx, text)
	if err != nil {
		return Fact{}, false
	}

	best := -1
	bestSim := 0.0
	for i, tv := range f.templateVectors {
		if sim := cosineSimilarity(vec, tv); sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best < 0 || bestSim < minVectorSimilarity {
		return Fact{}, false
	}
	confidence := bestSim
	if confidence > maxVectorConfidence {
		confidence = maxVectorConfidence
	}
	return Fact{
		Category:   canonicalTemplates[best].category,
		Fact:       strings.TrimSpace(text),
		Confidence: confidence,
		Method:     "vector",
	}, true
}

// dedupeFacts keeps the first fact per (category, normalized prefix) key,
// which favors higher-ranked patterns.
func dedupeFacts(facts []Fact) []Fact {
	seen := make(map[string]struct{}, len(facts))
	out := facts[:0]
	for _, fact := range facts {
		key := string(fact.Category) + "|" + normalizePrefix(fact.Fact)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, fact)
	}
	return out
}

// normalizePrefix lowercases, strips non-alphanumerics, and truncates so
// near-identical phrasings collapse to one key.
func normalizePrefix(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= 32 {
			break
		}
	}
	return b.String()
}
