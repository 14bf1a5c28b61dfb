package intent

import "strings"

// Keyword dictionaries for the rule-based fallback. Canonical value to
// surface-form variants; matching is substring-based since Chinese text
// has no word boundaries.

var flavorKeywords = map[string][]string{
	"酸":  {"酸", "酸味", "酸的", "酸爽", "酸辣"},
	"甜":  {"甜", "甜味", "甜的", "甜品", "甜食"},
	"苦":  {"苦", "苦味", "苦的"},
	"辣":  {"辣", "辣味", "辣的", "麻辣", "香辣", "酸辣", "微辣", "中辣", "特辣", "辛辣"},
	"咸":  {"咸", "咸味", "咸的", "重口味"},
	"鲜":  {"鲜", "鲜味", "鲜美", "鲜香"},
	"麻":  {"麻", "麻味", "麻辣", "花椒"},
	"香":  {"香", "香味", "香的"},
	"清淡": {"清淡", "淡", "少油", "少盐"},
}

var tagKeywords = map[string][]string{
	"熬夜": {"熬夜", "晚睡", "夜宵", "宵夜"},
	"加班": {"加班", "工作忙", "没时间"},
	"健身": {"健身", "锻炼", "运动", "增肌"},
	"减脂": {"减脂", "减肥", "瘦身", "控制体重", "低卡", "低脂"},
	"养生": {"养生", "保健", "滋补", "调理"},
	"快手": {"快手", "快速", "简单", "方便", "省时", "10分钟", "5分钟"},
	"宴客": {"宴客", "请客", "聚餐", "招待", "待客"},
	"便当": {"便当", "带饭", "午餐盒"},
	"下酒": {"下酒", "喝酒", "配酒"},
	"早餐": {"早餐", "早饭", "早上吃"},
	"午餐": {"午餐", "午饭", "中午吃"},
	"晚餐": {"晚餐", "晚饭", "晚上吃"},
	"下饭": {"下饭"},
	"家常": {"家常", "家常菜"},
	"新手": {"新手", "容易做", "入门"},
}

var sceneWords = []string{"加班", "熬夜", "减肥", "健身", "聚会", "周末", "夜宵"}

var ingredientWords = []string{
	"鸡肉", "猪肉", "牛肉", "羊肉", "鱼", "虾", "蟹", "鸡蛋", "豆腐",
	"土豆", "番茄", "黄瓜", "茄子", "青椒", "洋葱", "蒜", "姜",
	"米饭", "面条", "面粉", "豆芽", "白菜", "菠菜", "芹菜",
}

var dishTypeWords = []string{"蛋糕", "面包", "饼干", "汤", "主菜", "凉菜", "甜品", "饮品"}

// MatchFlavors returns the canonical flavors whose variants appear in text.
func MatchFlavors(text string) []string {
	return matchKeywordMap(text, flavorKeywords)
}

// MatchTags returns the canonical tags whose variants appear in text.
func MatchTags(text string) []string {
	return matchKeywordMap(text, tagKeywords)
}

// MatchScenes returns the scene words present in text.
func MatchScenes(text string) []string {
	return matchList(text, sceneWords)
}

// MatchIngredients returns the known ingredients present in text.
func MatchIngredients(text string) []string {
	return matchList(text, ingredientWords)
}

// MatchDishTypes returns the dish-type words present in text.
func MatchDishTypes(text string) []string {
	return matchList(text, dishTypeWords)
}

func matchKeywordMap(text string, m map[string][]string) []string {
	var out []string
	seen := make(map[string]bool)
	// Iterate canonical keys in a stable order for deterministic output.
	for _, canon := range sortedKeys(m) {
		if seen[canon] {
			continue
		}
		for _, variant := range m[canon] {
			if strings.Contains(text, variant) {
				out = append(out, canon)
				seen[canon] = true
				break
			}
		}
	}
	return out
}

func matchList(text string, words []string) []string {
	var out []string
	for _, w := range words {
		if strings.Contains(text, w) {
			out = append(out, w)
		}
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion sort; the maps are tiny.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
