package recommend

// Scenario maps a named use case to the recipe tags that serve it. The
// table is data: new scenarios are added through configuration, never
// through code branches.
type Scenario struct {
	Name string   `json:"name" yaml:"name"`
	Tags []string `json:"tags" yaml:"tags"`
}

// DefaultScenarios returns the built-in scenario table.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "熬夜加班", Tags: []string{"夜宵", "快手", "简单", "提神"}},
		{Name: "零碎时间", Tags: []string{"快手", "简单", "10分钟"}},
		{Name: "便携午餐", Tags: []string{"便当", "快手", "易保存"}},
		{Name: "周末聚餐", Tags: []string{"宴客", "硬菜", "下酒"}},
		{Name: "健身减脂", Tags: []string{"低脂", "健康", "高蛋白"}},
		{Name: "儿童营养", Tags: []string{"营养", "易消化", "补钙"}},
		{Name: "老人养生", Tags: []string{"清淡", "易消化", "养生"}},
		{Name: "约会浪漫", Tags: []string{"精致", "颜值", "西餐"}},
	}
}
