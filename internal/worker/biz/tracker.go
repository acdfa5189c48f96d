// Package biz 实现摄取流水线的业务逻辑：阶段状态机、打标、
// 元数据富化、向量化与持久化编排。
package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/worker/store"
)

// Stage 流水线阶段。
type Stage string

const (
	StageParsing    Stage = "parsing"
	StagePreprocess Stage = "preprocess"
	StageChunking   Stage = "chunking"
	StageTagging    Stage = "tagging_meta"
	StageEmbedding  Stage = "embedding"
	StagePersisting Stage = "persisting"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// stageSuccessor 阶段只允许单向推进，failed 可从任意阶段进入。
var stageSuccessor = map[Stage]Stage{
	"":              StageParsing,
	StageParsing:    StagePreprocess,
	StagePreprocess: StageChunking,
	StageChunking:   StageTagging,
	StageTagging:    StageEmbedding,
	StageEmbedding:  StagePersisting,
	StagePersisting: StageCompleted,
}

// Observer 阶段变更回调，用于测试与指标注入。
type Observer func(docID string, from, to Stage)

// StageTracker 单个文档的摄取阶段状态机。
// 阶段时间线写入 Document.StatusMeta；对外只暴露
// uploaded/parsed/indexed/failed 四个文档状态。
type StageTracker struct {
	docs    store.DocumentStore
	docID   string
	current Stage
	obs     Observer
}

// NewStageTracker 创建阶段状态机。obs 可以为 nil。
func NewStageTracker(docs store.DocumentStore, docID string, obs Observer) *StageTracker {
	return &StageTracker{docs: docs, docID: docID, obs: obs}
}

// Current 返回当前阶段。
func (t *StageTracker) Current() Stage {
	return t.current
}

// Enter 推进到下一阶段。非法跳转返回错误并保持原阶段。
// extra 为该次转移携带的阶段级元数据，合并进时间线。
func (t *StageTracker) Enter(ctx context.Context, stage Stage, extra model.JSONMap) error {
	if stageSuccessor[t.current] != stage {
		return fmt.Errorf("非法阶段跳转: %s -> %s", t.current, stage)
	}

	status := model.StatusUploaded
	if stageOrder(stage) > stageOrder(StageParsing) {
		// 解析完成后对外状态即为 parsed，后续阶段细节只进时间线
		status = model.StatusParsed
	}

	meta := model.JSONMap{
		"stage":                    string(stage),
		"stage_at_" + string(stage): time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		meta[k] = v
	}
	if err := t.docs.UpdateStatus(ctx, t.docID, status, "", meta); err != nil {
		return fmt.Errorf("更新阶段失败: %w", err)
	}

	from := t.current
	t.current = stage
	if t.obs != nil {
		t.obs(t.docID, from, stage)
	}
	return nil
}

// Complete 结束流水线，文档进入 indexed 终态。
func (t *StageTracker) Complete(ctx context.Context) error {
	if t.current != StagePersisting {
		return fmt.Errorf("非法阶段跳转: %s -> %s", t.current, StageCompleted)
	}

	meta := model.JSONMap{
		"stage":        string(StageCompleted),
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := t.docs.UpdateStatus(ctx, t.docID, model.StatusIndexed, "", meta); err != nil {
		return fmt.Errorf("更新阶段失败: %w", err)
	}

	from := t.current
	t.current = StageCompleted
	if t.obs != nil {
		t.obs(t.docID, from, StageCompleted)
	}
	return nil
}

// Fail 从任意阶段进入 failed 终态，记录失败阶段与原因。
func (t *StageTracker) Fail(ctx context.Context, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	meta := model.JSONMap{
		"stage":        string(StageFailed),
		"failed_stage": string(t.current),
		"failed_at":    time.Now().UTC().Format(time.RFC3339),
	}
	if err := t.docs.UpdateStatus(ctx, t.docID, model.StatusFailed, msg, meta); err != nil {
		return fmt.Errorf("更新阶段失败: %w", err)
	}

	from := t.current
	t.current = StageFailed
	if t.obs != nil {
		t.obs(t.docID, from, StageFailed)
	}
	return nil
}

func stageOrder(s Stage) int {
	order := []Stage{StageParsing, StagePreprocess, StageChunking, StageTagging, StageEmbedding, StagePersisting, StageCompleted}
	for i, st := range order {
		if st == s {
			return i
		}
	}
	return -1
}
