package biz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHybridWeightedSum(t *testing.T) {
	w := DefaultScoreWeights()
	full := Signals{Similarity: 1, Keyword: 1, Hierarchy: 1, Recency: 1, Topic: 1, Neighbor: 1}
	assert.InDelta(t, 1.0, full.Hybrid(w), 1e-9)

	onlySim := Signals{Similarity: 1}
	assert.InDelta(t, 0.55, onlySim.Hybrid(w), 1e-9)
}

func TestHybridMonotoneInKeyword(t *testing.T) {
	w := DefaultScoreWeights()
	base := Signals{Similarity: 0.4, Keyword: 0.2, Recency: 0.5}
	better := base
	better.Keyword = 0.8

	assert.Greater(t, better.Hybrid(w), base.Hybrid(w))
}

func TestTermContainment(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		content string
		want    float64
	}{
		{name: "全部命中", query: "milvus index", content: "how to build a Milvus index", want: 1},
		{name: "部分命中", query: "milvus backup", content: "milvus quickstart", want: 0.5},
		{name: "无命中", query: "kafka", content: "milvus quickstart", want: 0},
		{name: "空查询", query: "", content: "anything", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, termContainment(tt.query, tt.content), 1e-9)
		})
	}
}

func TestHierarchySignal(t *testing.T) {
	path := []string{"手册", "部署", "集群"}

	assert.Equal(t, 1.0, hierarchySignal(path, []string{"手册", "部署"}))
	assert.Equal(t, 1.0, hierarchySignal(path, []string{"手册"}))
	assert.Equal(t, 0.0, hierarchySignal(path, []string{"部署"}))
	assert.Equal(t, 0.0, hierarchySignal(path, []string{"手册", "部署", "集群", "节点"}))
	// 未要求前缀时不贡献分数
	assert.Equal(t, 0.0, hierarchySignal(path, nil))
}

func TestRecencySignal(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	assert.InDelta(t, 1.0, recencySignal(now, now), 1e-9)
	assert.InDelta(t, 0.5, recencySignal(now.AddDate(0, 0, -30), now), 1e-9)
	// 未来时间不奖励
	assert.InDelta(t, 1.0, recencySignal(now.AddDate(0, 0, 10), now), 1e-9)
}

func TestTopicSignal(t *testing.T) {
	assert.InDelta(t, 0.5,
		topicSignal([]string{"billing", "auth"}, []string{"Billing"}, nil), 1e-9)
	assert.InDelta(t, 1.0,
		topicSignal([]string{"billing"}, nil, []string{"billing", "extra"}), 1e-9)
	assert.Equal(t, 0.0, topicSignal(nil, []string{"billing"}, nil))
}

func TestNeighborSignalCapped(t *testing.T) {
	assert.InDelta(t, 0.0, neighborSignal(0), 1e-9)
	assert.InDelta(t, 0.1, neighborSignal(2), 1e-9)
	assert.InDelta(t, 0.2, neighborSignal(4), 1e-9)
	assert.InDelta(t, 0.2, neighborSignal(50), 1e-9)
	assert.InDelta(t, 0.0, neighborSignal(-1), 1e-9)
}
