package api

import (
	"time"

	"github.com/BaSui01/valuationflow/persistence"
	"github.com/BaSui01/valuationflow/workflow"
)

// =============================================================================
// 估值请求类型
// =============================================================================

// ValuationRequest 提交一次估值运行。
// @Description 估值请求；session_id 为空时由服务端生成，重复提交同一会话会续跑
type ValuationRequest struct {
	// 标的代码，例如 ACME 或 AAPL.US
	SubjectKey string `json:"subject_key" example:"ACME"`
	// 估值基准期，例如 2024-Q4
	Scope string `json:"scope" example:"2024-Q4"`
	// 会话 ID
	SessionID string `json:"session_id,omitempty" example:"7d0c1a2e-4f59-4d1b-9f37-2d8e1c7b5a10"`
}

// ValuationResponse 一次运行的结果，失败时 Diagnostics 说明失败阶段与原因
type ValuationResponse = workflow.RunResult

// =============================================================================
// 检查点类型
// =============================================================================

// CheckpointView 对外展示的检查点
type CheckpointView struct {
	Stage       string    `json:"stage"`
	Ordinal     int       `json:"ordinal"`
	CommittedAt time.Time `json:"committed_at"`
	// 截至该检查点已提交的阶段
	Stages []string `json:"stages"`
	// 该阶段提交的输出
	Output *persistence.StageOutput `json:"output,omitempty"`
}

// SessionCheckpoints GET /api/v1/sessions/{id}/checkpoints 的响应
type SessionCheckpoints struct {
	SessionID   string           `json:"session_id"`
	SubjectKey  string           `json:"subject_key"`
	Scope       string           `json:"scope"`
	Checkpoints []CheckpointView `json:"checkpoints"`
}

// NewCheckpointView 从存储的检查点构建视图
func NewCheckpointView(cp *persistence.Checkpoint) CheckpointView {
	view := CheckpointView{
		Stage:       cp.StageName,
		Ordinal:     cp.Ordinal,
		CommittedAt: cp.CommittedAt,
		Stages:      make([]string, 0, len(cp.State.Entries)),
	}
	for i := range cp.State.Entries {
		entry := cp.State.Entries[i]
		view.Stages = append(view.Stages, entry.Stage)
		if entry.Stage == cp.StageName {
			out := entry.Output
			view.Output = &out
		}
	}
	return view
}
