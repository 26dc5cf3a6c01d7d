package prompt

import (
	"math"
	"sort"
	"strings"
)

// Tone is the dominant mood detected in a prompt.
type Tone struct {
	Primary    string  `json:"primary"`
	Secondary  string  `json:"secondary,omitempty"`
	Intensity  float64 `json:"intensity"`
	Confidence float64 `json:"confidence"`
}

type toneProfile struct {
	name      string
	weight    float64
	keywords  []string
	modifiers []string
}

// tones are scanned in order; on equal scores the later tone wins.
var tones = []toneProfile{
	{"joyful", 0.8,
		[]string{"happy", "joy", "excited", "delighted", "cheerful", "bright", "sunny", "fun", "celebration", "laugh", "smile", "wonderful", "amazing", "fantastic", "great", "awesome", "beautiful", "lovely", "perfect", "good", "nice", "cute", "adorable", "sweet"},
		[]string{"bright colors", "warm lighting", "cheerful atmosphere", "vibrant", "uplifting mood"}},
	{"energetic", 0.9,
		[]string{"energy", "dynamic", "powerful", "intense", "fast", "rush", "electric", "explosive", "vibrant", "action", "movement", "speed", "active", "quick", "rapid", "strong", "fierce", "bold", "alive"},
		[]string{"dynamic composition", "bold colors", "motion blur", "high contrast", "electric atmosphere"}},
	{"peaceful", 0.6,
		[]string{"calm", "peaceful", "serene", "tranquil", "quiet", "gentle", "soft", "relaxing", "zen", "meditation", "still", "silence", "smooth", "slow", "rest", "comfortable", "easy"},
		[]string{"soft lighting", "muted colors", "gentle composition", "serene atmosphere", "calm mood"}},
	{"romantic", 0.7,
		[]string{"love", "romantic", "tender", "intimate", "heart", "passion", "kiss", "embrace", "couple", "valentine", "sweet", "beautiful", "gorgeous", "stunning", "elegant", "graceful"},
		[]string{"warm tones", "soft focus", "golden hour lighting", "tender atmosphere", "intimate mood"}},
	{"melancholy", 0.7,
		[]string{"sad", "melancholy", "lonely", "empty", "lost", "rain", "gray", "dark", "shadow", "tear", "sorrow", "blue", "quiet", "alone", "distant", "cold"},
		[]string{"muted colors", "overcast lighting", "somber mood", "introspective atmosphere", "blue tones"}},
	{"dramatic", 0.8,
		[]string{"dramatic", "intense", "storm", "thunder", "lightning", "crisis", "conflict", "tension", "serious", "grave", "ominous", "powerful", "overwhelming", "striking", "bold"},
		[]string{"high contrast", "dramatic lighting", "intense shadows", "stormy atmosphere", "cinematic composition"}},
	{"mysterious", 0.6,
		[]string{"mystery", "secret", "hidden", "dark", "shadow", "fog", "mist", "unknown", "enigma", "whisper", "night", "deep", "strange", "curious", "puzzle"},
		[]string{"low key lighting", "deep shadows", "fog effects", "mysterious atmosphere", "dark tones"}},
	{"nostalgic", 0.5,
		[]string{"memory", "past", "old", "vintage", "remember", "childhood", "history", "nostalgia", "yesterday", "time", "classic", "retro", "ancient", "traditional"},
		[]string{"vintage filter", "sepia tones", "soft focus", "aged appearance", "retro aesthetic"}},
	{"ethereal", 0.6,
		[]string{"dream", "ethereal", "floating", "cloud", "heaven", "angel", "spirit", "magical", "surreal", "fantasy", "fairy", "mystical", "otherworldly", "cosmic", "divine"},
		[]string{"soft lighting", "dreamy atmosphere", "floating elements", "magical mood", "luminous quality"}},
	{"rebellious", 0.8,
		[]string{"rebel", "punk", "rock", "wild", "free", "break", "escape", "revolution", "chaos", "bold", "fierce", "rough", "edgy", "raw", "gritty"},
		[]string{"high contrast", "bold colors", "gritty texture", "urban aesthetic", "raw energy"}},
	{"contemplative", 0.4,
		[]string{"think", "wonder", "contemplate", "reflect", "ponder", "mind", "thought", "question", "philosophy", "study", "focus", "concentrate", "consider"},
		[]string{"balanced composition", "neutral tones", "thoughtful mood", "scholarly atmosphere"}},
	{"minimalist", 0.3,
		[]string{"simple", "clean", "minimal", "pure", "basic", "essential", "clear", "space", "empty", "white", "plain", "neat", "organized"},
		[]string{"clean lines", "negative space", "minimal palette", "simple composition", "zen aesthetic"}},
}

var subtleCues = []string{"feel", "looks", "seems", "appears", "sounds", "color", "bright", "dark", "big", "small", "new", "old"}

// AnalyzeTone scores text against keyword lists. Substring hits score 1,
// whole-word hits 0.5 more, and each tone's total is scaled by its weight.
func AnalyzeTone(text string) Tone {
	lower := strings.ToLower(text)
	words := make(map[string]bool)
	for _, w := range strings.Split(lower, " ") {
		words[w] = true
	}

	scores := make([]float64, len(tones))
	best := 0
	for i, t := range tones {
		score := 0.0
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				score++
				if words[kw] {
					score += 0.5
				}
			}
		}
		scores[i] = score * t.weight
		if scores[i] >= scores[best] {
			best = i
		}
	}

	if scores[best] < 0.5 {
		return subtleTone(lower, len(text))
	}

	secondary := ""
	order := make([]int, 0, len(tones)-1)
	for i := range tones {
		if i != best {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	if len(order) > 0 && scores[order[0]] > 0.3 {
		secondary = tones[order[0]].name
	}

	return Tone{
		Primary:    tones[best].name,
		Secondary:  secondary,
		Intensity:  math.Max(0.4, math.Min(scores[best]/2, 1)),
		Confidence: math.Min(math.Max(0.6, scores[best]/1.5), 1),
	}
}

func subtleTone(lower string, length int) Tone {
	if length > 3 {
		for _, cue := range subtleCues {
			if !strings.Contains(lower, cue) {
				continue
			}
			switch {
			case strings.Contains(lower, "bright") || strings.Contains(lower, "light") || strings.Contains(lower, "warm"):
				return Tone{Primary: "joyful", Intensity: 0.4, Confidence: 0.6}
			case strings.Contains(lower, "dark") || strings.Contains(lower, "cold") || strings.Contains(lower, "gray"):
				return Tone{Primary: "mysterious", Intensity: 0.4, Confidence: 0.6}
			}
			break
		}
	}
	return Tone{Primary: "contemplative", Intensity: 0.3, Confidence: 0.5}
}

// ApplyTone appends ceil(intensity*3) style modifiers of the tone and a
// "<tone> mood" suffix.
//
// Example:
//
//	ApplyTone("a storm over the sea", AnalyzeTone("a storm over the sea"))
//	// "a storm over the sea, high contrast, dramatic lighting, dramatic mood"
func ApplyTone(text string, tone Tone) string {
	if tone.Confidence < 0.3 {
		return text
	}
	var modifiers []string
	for _, t := range tones {
		if t.name == tone.Primary {
			modifiers = t.modifiers
			break
		}
	}
	if len(modifiers) == 0 {
		return text
	}
	n := int(math.Ceil(tone.Intensity * 3))
	if n > len(modifiers) {
		n = len(modifiers)
	}
	return text + ", " + strings.Join(modifiers[:n], ", ") + ", " + tone.Primary + " mood"
}

// StyleWithTone analyzes text and applies the detected tone.
func StyleWithTone(text string) string {
	return ApplyTone(text, AnalyzeTone(text))
}
