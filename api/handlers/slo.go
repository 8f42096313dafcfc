package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/trust/slo"
)

// =============================================================================
// 📈 SLO / Reputation Handler
// =============================================================================

// SLOHandler SLO 目标、观测与信誉分
type SLOHandler struct {
	tracker    *slo.Tracker
	reputation *slo.ReputationSystem
	logger     *zap.Logger
}

// NewSLOHandler 创建 SLO 处理器
func NewSLOHandler(tracker *slo.Tracker, reputation *slo.ReputationSystem, logger *zap.Logger) *SLOHandler {
	return &SLOHandler{
		tracker:    tracker,
		reputation: reputation,
		logger:     orNop(logger).With(zap.String("handler", "slo")),
	}
}

// RecordMetricRequest 一条观测
type RecordMetricRequest struct {
	LatencyMs *float64 `json:"latency_ms,omitempty"`
	Success   bool     `json:"success"`
}

// DecayRequest 时间衰减参数
type DecayRequest struct {
	Rate         float64 `json:"rate"`
	DaysInactive float64 `json:"days_inactive"`
}

// SLOReport 目标、合规快照与近期违约
type SLOReport struct {
	Objective   slo.ServiceLevelObjective `json:"objective"`
	Compliance  *slo.SLOCompliance        `json:"compliance,omitempty"`
	Violations  []slo.Violation           `json:"violations"`
	SampleCount int                       `json:"sample_count"`
}

// ReputationReport 当前分与历史
type ReputationReport struct {
	Current *slo.ReputationScore  `json:"current,omitempty"`
	History []slo.ReputationScore `json:"history"`
}

// HandleSetObjective 设置 swarm 的 SLO 目标
// @Router /api/v1/swarms/{id}/slo [put]
func (h *SLOHandler) HandleSetObjective(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var objective slo.ServiceLevelObjective
	if !decodeRequest(w, r, &objective, h.logger) {
		return
	}

	if err := h.tracker.SetSLO(swarmID, objective); err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, objective)
}

// HandleReport 合规快照；没有样本时 compliance 省略
// @Router /api/v1/swarms/{id}/slo [get]
func (h *SLOHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}

	report := SLOReport{
		Objective:   h.tracker.Objective(swarmID),
		Violations:  h.tracker.Violations(swarmID),
		SampleCount: len(h.tracker.Metrics(swarmID)),
	}
	if compliance, ok := h.tracker.ComputeCompliance(swarmID); ok {
		report.Compliance = compliance
	}
	if report.Violations == nil {
		report.Violations = []slo.Violation{}
	}
	WriteSuccess(w, r, report)
}

// HandleRecordMetric 追加一条观测
// @Router /api/v1/swarms/{id}/metrics [post]
func (h *SLOHandler) HandleRecordMetric(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req RecordMetricRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	h.tracker.RecordMetric(swarmID, req.LatencyMs, req.Success)
	WriteJSON(w, http.StatusAccepted, Response{Success: true, Data: map[string]int{"samples": len(h.tracker.Metrics(swarmID))}, RequestID: requestID(r)})
}

// HandleReputation 当前信誉分与历史，不重新评分
// @Router /api/v1/swarms/{id}/reputation [get]
func (h *SLOHandler) HandleReputation(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}

	report := ReputationReport{History: h.reputation.History(swarmID)}
	if cur, ok := h.reputation.Current(swarmID); ok {
		report.Current = &cur
	}
	if report.History == nil {
		report.History = []slo.ReputationScore{}
	}
	WriteSuccess(w, r, report)
}

// HandlePublish 重新评分并推送给治理器
// @Router /api/v1/swarms/{id}/reputation/publish [post]
func (h *SLOHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}

	score, err := h.reputation.Publish(swarmID)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, score)
}

// HandleDecay 对当前分数施加时间衰减
// @Router /api/v1/swarms/{id}/reputation/decay [post]
func (h *SLOHandler) HandleDecay(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req DecayRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	score, err := h.reputation.ApplyDecay(swarmID, req.Rate, req.DaysInactive)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, score)
}
