package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/valuationflow/api"
	"github.com/BaSui01/valuationflow/internal/ctxkeys"
	"github.com/BaSui01/valuationflow/persistence"
	"github.com/BaSui01/valuationflow/types"
	"github.com/BaSui01/valuationflow/workflow"
)

// Submitter 运行一次估值管道，*workflow.Executor 实现该接口
type Submitter interface {
	Submit(ctx context.Context, subjectKey, scope, sessionID string) (*workflow.RunResult, error)
}

// CheckpointLister 读取会话检查点，persistence.Store 实现该接口
type CheckpointLister interface {
	ListCheckpoints(ctx context.Context, sessionID string) ([]*persistence.Checkpoint, error)
}

// =============================================================================
// 📈 估值 Handler
// =============================================================================

// ValuationHandler 提交估值运行与查询检查点
type ValuationHandler struct {
	executor    Submitter
	checkpoints CheckpointLister
	runTimeout  time.Duration
	newID       func() string
	logger      *zap.Logger
}

// NewValuationHandler 创建估值处理器；runTimeout <= 0 表示不限时
func NewValuationHandler(executor Submitter, checkpoints CheckpointLister, runTimeout time.Duration, logger *zap.Logger) *ValuationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValuationHandler{
		executor:    executor,
		checkpoints: checkpoints,
		runTimeout:  runTimeout,
		newID:       uuid.NewString,
		logger:      logger.With(zap.String("component", "valuation_handler")),
	}
}

// HandleSubmit 处理 POST /api/v1/valuations。
// 同步等待运行结束：完成返回 200，失败按失败类别返回 4xx/5xx 并附带诊断。
func (h *ValuationHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ValuationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = h.newID()
	}

	ctx := ctxkeys.WithSessionID(r.Context(), req.SessionID)
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}

	res, err := h.executor.Submit(ctx, req.SubjectKey, req.Scope, req.SessionID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if !res.Completed() {
		writeFailure(w, r, res.Err(), res, h.logger)
		return
	}

	h.logger.Info("valuation completed",
		zap.String("session_id", res.SessionID),
		zap.String("subject_key", res.SubjectKey),
		zap.String("scope", res.Scope),
		zap.Bool("recalled", res.Recalled),
		zap.Duration("duration", res.Duration),
	)
	WriteSuccess(w, r, res)
}

// HandleCheckpoints 处理 GET /api/v1/sessions/{id}/checkpoints
func (h *ValuationHandler) HandleCheckpoints(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "session id is required", h.logger)
		return
	}

	cps, err := h.checkpoints.ListCheckpoints(r.Context(), sessionID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		WriteError(w, r, types.NewError(types.ErrInternalError, "list checkpoints").WithCause(err), h.logger)
		return
	}
	if len(cps) == 0 {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrInvalidRequest, "session "+sessionID+" has no checkpoints", h.logger)
		return
	}

	out := api.SessionCheckpoints{
		SessionID:   sessionID,
		SubjectKey:  cps[0].SubjectKey,
		Scope:       cps[0].Scope,
		Checkpoints: make([]api.CheckpointView, 0, len(cps)),
	}
	for _, cp := range cps {
		out.Checkpoints = append(out.Checkpoints, api.NewCheckpointView(cp))
	}
	WriteSuccess(w, r, out)
}
