package biz

import (
	"strings"
	"time"

	"github.com/kart-io/knowbase/internal/pkg/kb/textutil"
)

// ScoreWeights 混合打分各信号权重，总和应为 1。
type ScoreWeights struct {
	Similarity float64 `json:"similarity" mapstructure:"similarity"`
	Keyword    float64 `json:"keyword" mapstructure:"keyword"`
	Hierarchy  float64 `json:"hierarchy" mapstructure:"hierarchy"`
	Recency    float64 `json:"recency" mapstructure:"recency"`
	Topic      float64 `json:"topic" mapstructure:"topic"`
	Neighbor   float64 `json:"neighbor" mapstructure:"neighbor"`
}

// DefaultScoreWeights 返回默认权重。
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Similarity: 0.55,
		Keyword:    0.25,
		Hierarchy:  0.10,
		Recency:    0.05,
		Topic:      0.03,
		Neighbor:   0.02,
	}
}

// Signals 单个候选的信号分量，全部落在 [0,1]。
type Signals struct {
	Similarity float64 `json:"similarity"`
	Keyword    float64 `json:"keyword"`
	Hierarchy  float64 `json:"hierarchy"`
	Recency    float64 `json:"recency"`
	Topic      float64 `json:"topic"`
	Neighbor   float64 `json:"neighbor"`
}

// Hybrid 计算加权混合分。
func (s Signals) Hybrid(w ScoreWeights) float64 {
	return w.Similarity*s.Similarity +
		w.Keyword*s.Keyword +
		w.Hierarchy*s.Hierarchy +
		w.Recency*s.Recency +
		w.Topic*s.Topic +
		w.Neighbor*s.Neighbor
}

// termContainment 返回查询词元出现在内容中的比例。
func termContainment(query, content string) float64 {
	terms := textutil.Tokenize(query)
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// hierarchySignal 判断层级路径是否以要求的前缀开头。未要求前缀时为 0。
func hierarchySignal(hierPath, prefix []string) float64 {
	if len(prefix) == 0 || len(prefix) > len(hierPath) {
		return 0
	}
	for i, p := range prefix {
		if !strings.EqualFold(hierPath[i], p) {
			return 0
		}
	}
	return 1
}

// recencySignal 按创建时间衰减，半衰期约一个月。
func recencySignal(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 1 / (1 + ageDays/30)
}

// topicSignal 返回命中的请求主题占比。未请求主题时为 0。
func topicSignal(requested, topics, topicLabels []string) float64 {
	if len(requested) == 0 {
		return 0
	}
	present := make(map[string]struct{}, len(topics)+len(topicLabels))
	for _, t := range topics {
		present[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range topicLabels {
		present[strings.ToLower(t)] = struct{}{}
	}
	matched := 0
	for _, want := range requested {
		if _, ok := present[strings.ToLower(want)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(requested))
}

// neighborSignal 邻接密度加成，封顶 0.2。
func neighborSignal(count int) float64 {
	if count < 0 {
		count = 0
	}
	score := float64(count) * 0.05
	if score > 0.2 {
		score = 0.2
	}
	return score
}
