package preference

import (
	"regexp"
	"strings"

	"github.com/zxcasde/RecipeGraphRAG/intent"
)

// Stated holds preference signals extracted from one query by rule
// matching. It is how casual remarks like "我喜欢吃辣" feed the profile
// without an explicit interaction event.
type Stated struct {
	CookedDishes []string `json:"cooked_dishes,omitempty"`
	LikedDishes  []string `json:"liked_dishes,omitempty"`
	Flavors      []string `json:"flavors,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Ingredients  []string `json:"ingredients,omitempty"`
}

// HasPreference reports whether any signal was extracted.
func (s Stated) HasPreference() bool {
	return len(s.CookedDishes)+len(s.LikedDishes)+len(s.Flavors)+len(s.Tags)+len(s.Ingredients) > 0
}

// cookedPattern matches past-tense cooking verbs such as 做过 and 炒过.
var cookedPattern = regexp.MustCompile(`[做煮炒烧炖蒸煎炸烤]过`)

// likeWords signal an explicitly stated liking.
var likeWords = []string{"特别喜欢", "最爱", "很爱", "喜欢", "爱吃", "想吃", "偏好", "爱"}

// ExtractStated pulls stated preferences out of a query. knownDishes
// are the recipe names to scan for; pass nil when dish matching is not
// needed. Flavors only count when the query states a liking or uses the
// 的/味 suffix, so "酸辣汤怎么做" does not register 辣 as a preference.
func ExtractStated(query string, knownDishes []string) Stated {
	var s Stated
	if query == "" {
		return s
	}

	cooked := cookedPattern.MatchString(query)
	liked := containsAny(query, likeWords)

	for _, dish := range knownDishes {
		if dish == "" || !strings.Contains(query, dish) {
			continue
		}
		switch {
		case cooked:
			s.CookedDishes = appendUniqueString(s.CookedDishes, dish)
		case liked:
			s.LikedDishes = appendUniqueString(s.LikedDishes, dish)
		}
	}

	for _, flavor := range intent.MatchFlavors(query) {
		if liked || strings.Contains(query, flavor+"的") || strings.Contains(query, flavor+"味") {
			s.Flavors = appendUniqueString(s.Flavors, flavor)
		}
	}

	// Lifestyle tags stand on their own: mentioning 熬夜 or 减脂 is the
	// preference signal.
	s.Tags = intent.MatchTags(query)

	if liked {
		s.Ingredients = intent.MatchIngredients(query)
	}

	return s
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func appendUniqueString(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
