package profile

import (
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultArchetype is reported when keywords carry no archetype signal.
const DefaultArchetype = "starweaver"

const (
	confidenceFloor = 0.80
	confidenceSpan  = 0.15
	defaultRaw      = 0.5
	topThemeCount   = 3
	minKeywordLen   = 4
)

type archetype struct {
	name     string
	keywords []string
}

// Evaluated in order; the first archetype wins ties.
var archetypes = []archetype{
	{name: "starweaver", keywords: []string{"symbol", "pattern", "weave", "cosmic", "ancient", "wisdom"}},
	{name: "moonwalker", keywords: []string{"fly", "travel", "journey", "path", "adventure", "explore"}},
	{name: "soulkeeper", keywords: []string{"feel", "emotion", "heart", "soul", "deep", "love"}},
	{name: "timeseeker", keywords: []string{"past", "memory", "future", "time", "remember", "tomorrow"}},
	{name: "shadowmender", keywords: []string{"dark", "fear", "shadow", "night", "hidden", "transform"}},
	{name: "lightbringer", keywords: []string{"light", "joy", "happy", "bright", "sun", "hope"}},
}

var themeGroups = []archetype{
	{name: "adventure", keywords: []string{"journey", "travel", "explore", "adventure", "discover", "quest"}},
	{name: "family", keywords: []string{"family", "mother", "father", "sister", "brother", "child", "parent"}},
	{name: "mystery", keywords: []string{"unknown", "hidden", "secret", "mystery", "puzzle", "strange"}},
	{name: "nature", keywords: []string{"water", "ocean", "forest", "mountain", "tree", "animal", "earth"}},
	{name: "flying", keywords: []string{"fly", "flying", "float", "soar", "wing", "air", "sky"}},
	{name: "work", keywords: []string{"work", "job", "office", "boss", "colleague", "meeting", "project"}},
	{name: "school", keywords: []string{"school", "class", "teacher", "student", "exam", "test", "study"}},
	{name: "home", keywords: []string{"home", "house", "room", "door", "window", "bed", "kitchen"}},
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the a an and or but in on at to for of with by from as is was are were been
		be have has had do does did will would could should may might must shall can need i me my myself we our
		ours you your yours he him his she her hers it its they them their what which who whom this that these
		those am being having doing if because until while about against between into through during before
		after above below up down out off over under again further then once`) {
		stopWords[w] = struct{}{}
	}
}

var wordPattern = regexp.MustCompile(`\w+`)

// Confidence maps a raw archetype score onto [0.80, 0.95]. Scores outside
// [0,1] are clamped first.
func Confidence(raw float64) float64 {
	return confidenceFloor + min(max(raw, 0), 1)*confidenceSpan
}

// ExtractKeywords lowercases text and keeps words longer than three runes
// that are not stop words.
func ExtractKeywords(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Archetype picks the archetype whose keywords best match the theme keyword
// counts and returns it with its bounded confidence. Without any signal it
// returns DefaultArchetype at the midpoint confidence.
func Archetype(keywords map[string]int) (string, float64) {
	total := 0
	for _, count := range keywords {
		total += count
	}
	if total == 0 {
		return DefaultArchetype, Confidence(defaultRaw)
	}
	best, bestScore := "", 0
	for _, a := range archetypes {
		if score := matchScore(a.keywords, keywords); score > bestScore {
			best, bestScore = a.name, score
		}
	}
	if bestScore == 0 {
		return DefaultArchetype, Confidence(defaultRaw)
	}
	return best, Confidence(float64(bestScore) / (float64(total) * 0.1))
}

// TopThemes returns up to three theme names ranked by how many keywords fall
// into each theme group.
func TopThemes(keywords map[string]int) []string {
	type scored struct {
		name  string
		score int
		order int
	}
	var ranked []scored
	for i, group := range themeGroups {
		if score := matchScore(group.keywords, keywords); score > 0 {
			ranked = append(ranked, scored{name: group.name, score: score, order: i})
		}
	}
	slices.SortFunc(ranked, func(a, b scored) int {
		if a.score != b.score {
			return b.score - a.score
		}
		return a.order - b.order
	})
	caser := cases.Title(language.English)
	out := make([]string, 0, topThemeCount)
	for _, r := range ranked {
		if len(out) == topThemeCount {
			break
		}
		out = append(out, caser.String(r.name))
	}
	return out
}

// matchScore counts keyword occurrences where either word contains the
// other; each counted keyword contributes once per group.
func matchScore(groupWords []string, keywords map[string]int) int {
	score := 0
	for keyword, count := range keywords {
		for _, word := range groupWords {
			if strings.Contains(keyword, word) || strings.Contains(word, keyword) {
				score += count
				break
			}
		}
	}
	return score
}
