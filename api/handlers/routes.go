package handlers

import "net/http"

// Set 汇总全部 API 处理器，nil 成员对应的路由不注册
type Set struct {
	Tasks       *TaskHandler
	Swarms      *SwarmHandler
	Governor    *GovernorHandler
	Escalations *EscalationHandler
	Credentials *CredentialHandler
	SLO         *SLOHandler
	Signatures  *SignatureHandler
	Gateway     *GatewayHandler
}

// Register 把 /api/v1 路由挂到 mux 上
func (s *Set) Register(mux *http.ServeMux) {
	if h := s.Tasks; h != nil {
		mux.HandleFunc("POST /api/v1/tasks", h.HandleCreate)
		mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleGet)
		mux.HandleFunc("POST /api/v1/tasks/{id}/claim", h.HandleClaim)
		mux.HandleFunc("POST /api/v1/tasks/{id}/start", h.HandleStart)
		mux.HandleFunc("POST /api/v1/tasks/{id}/complete", h.HandleComplete)
		mux.HandleFunc("POST /api/v1/tasks/{id}/fail", h.HandleFail)
	}

	if h := s.Swarms; h != nil {
		mux.HandleFunc("POST /api/v1/swarms", h.HandleRegister)
		mux.HandleFunc("GET /api/v1/swarms", h.HandleList)
		mux.HandleFunc("GET /api/v1/swarms/{id}", h.HandleGet)
		mux.HandleFunc("DELETE /api/v1/swarms/{id}", h.HandleUnregister)
		mux.HandleFunc("POST /api/v1/swarms/{id}/push", h.HandlePushTask)
		mux.HandleFunc("GET /api/v1/swarms/{id}/push", h.HandlePushStream)
	}

	if h := s.Governor; h != nil {
		mux.HandleFunc("POST /api/v1/governor/match", h.HandleMatch)
		mux.HandleFunc("GET /api/v1/governor/policy", h.HandlePolicy)
		mux.HandleFunc("POST /api/v1/swarms/{id}/cost", h.HandleTrackCost)
		mux.HandleFunc("GET /api/v1/swarms/{id}/breaker", h.HandleBreakerStatus)
		mux.HandleFunc("POST /api/v1/swarms/{id}/breaker/reset", h.HandleResetBreaker)
	}

	if h := s.Escalations; h != nil {
		mux.HandleFunc("POST /api/v1/swarms/{id}/blockers", h.HandleReportBlocker)
		mux.HandleFunc("GET /api/v1/escalations", h.HandleList)
		mux.HandleFunc("POST /api/v1/escalations/resolve", h.HandleResolve)
	}

	if h := s.Credentials; h != nil {
		mux.HandleFunc("POST /api/v1/credentials", h.HandleGenerate)
		mux.HandleFunc("POST /api/v1/credentials/validate", h.HandleValidate)
		mux.HandleFunc("POST /api/v1/credentials/revoke", h.HandleRevoke)
		mux.HandleFunc("POST /api/v1/credentials/rotate", h.HandleRotate)
		mux.HandleFunc("POST /api/v1/credentials/purge", h.HandlePurge)
	}

	if h := s.SLO; h != nil {
		mux.HandleFunc("PUT /api/v1/swarms/{id}/slo", h.HandleSetObjective)
		mux.HandleFunc("GET /api/v1/swarms/{id}/slo", h.HandleReport)
		mux.HandleFunc("POST /api/v1/swarms/{id}/metrics", h.HandleRecordMetric)
		mux.HandleFunc("GET /api/v1/swarms/{id}/reputation", h.HandleReputation)
		mux.HandleFunc("POST /api/v1/swarms/{id}/reputation/publish", h.HandlePublish)
		mux.HandleFunc("POST /api/v1/swarms/{id}/reputation/decay", h.HandleDecay)
	}

	if h := s.Signatures; h != nil {
		mux.HandleFunc("POST /api/v1/signatures/keys", h.HandleRegisterKey)
		mux.HandleFunc("DELETE /api/v1/signatures/keys/{id}", h.HandleRevokeKey)
		mux.HandleFunc("POST /api/v1/signatures/verify", h.HandleVerify)
	}

	if h := s.Gateway; h != nil {
		mux.HandleFunc("POST /api/v1/gateway/admit", h.HandleAdmit)
	}
}
