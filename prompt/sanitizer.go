// Package prompt cleans up user text before it reaches an image backend:
// coherence checks for transcribed speech, policy-safe rewrites for retries
// after a rejection, fallback prompts, tone styling and the rolling history
// of recent prompts.
package prompt

import (
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	minCoherentLength = 5
	minLongWords      = 2
	// at most this many short (1-2 char) tokens per long (3+ char) word
	maxShortRatio = 0.5
)

var (
	wordPattern      = regexp.MustCompile(`\S+`)
	shortWordPattern = regexp.MustCompile(`\b\w{1,2}\b`)
	spacePattern     = regexp.MustCompile(`\s+`)

	incoherentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bthe the the\b`),
		regexp.MustCompile(`(?i)\band and and\b`),
		regexp.MustCompile(`(?i)\b\w\s+\w\s+\w\b`),
		regexp.MustCompile(`(?i)^\s*(um|uh|er|ah)\s+`),
	}
)

// IsCoherent reports whether text looks like a deliberate description
// rather than transcription noise. Incoherent text should be replaced with a
// fallback prompt instead of being generated.
//
// Examples:
//
//	IsCoherent("ok")                                    // false, too short
//	IsCoherent("a beautiful sunset over the mountains") // true
//	IsCoherent("um so where is the lake")              // false, disfluency
func IsCoherent(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minCoherentLength {
		return false
	}

	long := 0
	for _, w := range wordPattern.FindAllString(trimmed, -1) {
		if len(w) > 2 {
			long++
		}
	}
	if long < minLongWords {
		return false
	}

	short := len(shortWordPattern.FindAllString(trimmed, -1))
	if float64(short) > float64(long)*maxShortRatio {
		return false
	}

	for _, p := range incoherentPatterns {
		if p.MatchString(trimmed) {
			return false
		}
	}
	return true
}

// denylist holds terms that reliably trigger policy rejections. Phrases are
// listed before the single words they contain so they are removed whole.
var denylist = []string{
	"my friend", "their friend", "waiting on",
	"friends", "friend",
	"celebrity", "famous", "actor", "actress",
	"disney", "marvel", "batman", "superman", "pokemon",
}

var denylistPattern = buildAlternation(denylist)

func buildAlternation(terms []string) *regexp.Regexp {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = regexp.QuoteMeta(t)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// Sanitize lowercases text, removes denylisted terms at word boundaries and
// collapses whitespace. Everything else is preserved.
//
// Example:
//
//	Sanitize("My friend and I at the beach") // "and i at the beach"
func Sanitize(text string) string {
	out := denylistPattern.ReplaceAllString(strings.ToLower(text), " ")
	return collapse(out)
}

type replacement struct {
	pattern *regexp.Regexp
	with    string
}

func word(term, with string) replacement {
	return replacement{regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`), with}
}

// ultraSafe maps risky vocabulary to neutral equivalents, in order.
var ultraSafe = []replacement{
	word("boat", "water scene"), word("ship", "water scene"), word("nautical", "water scene"),
	word("sailing", "water scene"), word("marina", "water scene"), word("harbor", "water scene"),
	word("dock", "water scene"), word("yacht", "water scene"),
	word("show", "scene"), word("event", "scene"), word("exhibition", "display"),
	word("competition", "activity"), word("contest", "activity"),
	word("friends", "figures"), word("friend", "figure"),
	word("people", "figures"), word("person", "figure"),
	word("waiting", "standing"), word("watching", "viewing"),
	word("my", ""), word("the", ""), word("a", ""), word("an", ""),
}

var problematicPattern = buildAlternation([]string{
	"topless", "nude", "naked", "sexy", "erotic", "porn", "hentai",
	"gore", "blood", "violence", "kill", "murder", "hate speech",
})

var (
	colorWords = []string{"blue", "red", "green", "yellow", "purple", "orange", "pink", "brown", "gray", "white", "black", "golden", "silver"}
	moodWords  = []string{"peaceful", "calm", "serene", "vibrant", "bright", "soft", "gentle", "warm", "cool", "dreamy"}
)

// InnocuousPrompt is the last resort of Genericize.
const InnocuousPrompt = "colorful abstract art"

// ContainsProblematicTerms reports whether text names explicit or violent
// content that no rewrite should pass through.
func ContainsProblematicTerms(text string) bool {
	return problematicPattern.MatchString(text)
}

// Genericize is the strong rewrite used after a hosted backend rejected a
// prompt: risky vocabulary is mapped to neutral words. If little survives or
// explicit terms remain, the result is built from the color and mood words
// of the original, and finally InnocuousPrompt.
//
// Example:
//
//	Genericize("my friends at the boat show") // "figures at water scene scene"
//	Genericize("blue naked figure")           // "blue abstract art"
func Genericize(text string) string {
	out := text
	for _, r := range ultraSafe {
		out = r.pattern.ReplaceAllString(out, r.with)
	}
	out = collapse(strings.ToLower(out))

	if len(out) >= 3 && !ContainsProblematicTerms(out) {
		return out
	}
	return abstractFrom(text)
}

func abstractFrom(text string) string {
	lower := strings.ToLower(text)
	color := firstWordIn(lower, colorWords)
	mood := firstWordIn(lower, moodWords)
	switch {
	case color != "" && mood != "":
		return color + " " + mood + " abstract art"
	case color != "":
		return color + " abstract art"
	case mood != "":
		return mood + " artistic scene"
	default:
		return InnocuousPrompt
	}
}

func firstWordIn(text string, candidates []string) string {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		words[w] = true
	}
	for _, c := range candidates {
		if words[c] {
			return c
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// defaultPrompts seed the board when there is no history to build on.
var defaultPrompts = []string{
	"A serene landscape with mountains and a lake at sunset",
	"An abstract composition with vibrant colors and geometric shapes",
	"A peaceful garden scene with blooming flowers and butterflies",
	"A futuristic cityscape with flying vehicles and neon lights",
	"A cozy interior with warm lighting and comfortable furniture",
	"A magical forest with glowing mushrooms and fairy lights",
	"A minimalist design with clean lines and subtle textures",
	"A dramatic seascape with crashing waves and stormy skies",
	"A whimsical illustration with playful characters and patterns",
	"A vintage photograph with nostalgic atmosphere and warm tones",
}

var themes = []string{"complementary", "contrasting", "expanding", "variation of", "alternative view of", "different perspective on"}

// Sanitizer adds the randomized parts of prompt handling. It is safe for
// concurrent use.
type Sanitizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSanitizer creates a Sanitizer. A nil source seeds from the clock.
func NewSanitizer(src rand.Source) *Sanitizer {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Sanitizer{rng: rand.New(src)}
}

func (s *Sanitizer) pick(options []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return options[s.rng.Intn(len(options))]
}

// FallbackPrompt builds a prompt from history (newest last): a theme word
// plus the latest prompt, or one of the built-in prompts without history.
func (s *Sanitizer) FallbackPrompt(history []string) string {
	for i := len(history) - 1; i >= 0; i-- {
		if last := strings.TrimSpace(history[i]); last != "" {
			return s.pick(themes) + " " + last
		}
	}
	return s.pick(defaultPrompts)
}

// Rewrite prepares a prompt for the single retry after a safety rejection:
// incoherent input is replaced outright, otherwise Sanitize is applied and a
// result shorter than two words falls back as well.
func (s *Sanitizer) Rewrite(text string) string {
	if !IsCoherent(text) {
		return s.FallbackPrompt(nil)
	}
	clean := Sanitize(text)
	if len(clean) <= minCoherentLength || len(strings.Fields(clean)) < 2 {
		return s.FallbackPrompt(nil)
	}
	return clean
}

// Prepare returns text unchanged if it is coherent and a fallback built on
// history otherwise. It is applied to prompts as they are submitted.
func (s *Sanitizer) Prepare(text string, history []string) (string, bool) {
	if IsCoherent(text) {
		return strings.TrimSpace(text), false
	}
	return s.FallbackPrompt(history), true
}
