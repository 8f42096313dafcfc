package handlers

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/coordination"
	"github.com/BaSui01/swarmplane/coordinator"
	"github.com/BaSui01/swarmplane/gateway"
	"github.com/BaSui01/swarmplane/governor"
	"github.com/BaSui01/swarmplane/internal/ctxkeys"
	"github.com/BaSui01/swarmplane/testutil"
	"github.com/BaSui01/swarmplane/trust/credential"
	"github.com/BaSui01/swarmplane/trust/signature"
	"github.com/BaSui01/swarmplane/trust/slo"
	"github.com/BaSui01/swarmplane/types"
)

// =============================================================================
// 🔧 测试装配
// =============================================================================

type outcome struct {
	swarmID string
	success bool
	latency *float64
}

type recordingOutcomes struct {
	mu  sync.Mutex
	got []outcome
}

func (r *recordingOutcomes) RecordOutcome(ctx context.Context, swarmID string, success bool, latencyMs *float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, outcome{swarmID: swarmID, success: success, latency: latencyMs})
}

func (r *recordingOutcomes) snapshot() []outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outcome(nil), r.got...)
}

type testAPI struct {
	mux      *http.ServeMux
	coord    *coordinator.Coordinator
	gov      *governor.Governor
	tracker  *slo.Tracker
	outcomes *recordingOutcomes
	audit    *audit.Recorder
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	rec := audit.NewRecorder()

	store := coordination.NewMemoryStore(coordination.DefaultMemoryStoreConfig(), nil)
	coord := coordinator.New(store, coordinator.DefaultConfig(), coordinator.WithAuditSink(rec))
	gov := governor.New(governor.DefaultResourcePolicy(), governor.WithAuditSink(rec), governor.WithEscalator(coord))
	creds := credential.NewManager(credential.NewMemoryStore(), credential.DefaultConfig(), credential.WithAuditSink(rec))
	tracker := slo.NewTracker(slo.DefaultTrackerConfig(), slo.WithAuditSink(rec))
	reputation := slo.NewReputationSystem(tracker, slo.DefaultReputationConfig(), slo.WithAuditSink(rec), slo.WithReputationSink(gov))
	verifier := signature.NewVerifier(signature.DefaultConfig(), signature.WithAuditSink(rec))
	admission := gateway.NewAdmission(creds, gov, rec, nil)

	t.Cleanup(func() {
		_ = coord.Close(context.Background())
		_ = store.Close()
	})

	outcomes := &recordingOutcomes{}
	set := &Set{
		Tasks:       NewTaskHandler(coord, outcomes, nil),
		Swarms:      NewSwarmHandler(coord, gov, DefaultSwarmHandlerConfig(), nil),
		Governor:    NewGovernorHandler(gov, nil),
		Escalations: NewEscalationHandler(coord, nil),
		Credentials: NewCredentialHandler(creds, coord, nil),
		SLO:         NewSLOHandler(tracker, reputation, nil),
		Signatures:  NewSignatureHandler(verifier, nil),
		Gateway:     NewGatewayHandler(admission, nil),
	}
	mux := http.NewServeMux()
	set.Register(mux)

	return &testAPI{mux: mux, coord: coord, gov: gov, tracker: tracker, outcomes: outcomes, audit: rec}
}

// do 发送 JSON 请求并解析 data
func (a *testAPI) do(t *testing.T, method, target string, body, data any) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, jsonRequest(t, method, target, body))
	return w.Code, decodeEnvelope(t, w, data)
}

// claimedTask 创建任务并由 swarmID 认领
func (a *testAPI) claimedTask(t *testing.T, swarmID string) string {
	t.Helper()
	ctx := context.Background()
	id, err := a.coord.CreateTask(ctx, coordinator.TaskSpec{TaskType: "egress"})
	require.NoError(t, err)
	won, err := a.coord.ClaimTask(ctx, swarmID, id)
	require.NoError(t, err)
	require.True(t, won)
	return id
}

func (a *testAPI) registerSwarm(t *testing.T, id string, cost, budget float64, caps ...string) {
	t.Helper()
	code, env := a.do(t, http.MethodPost, "/api/v1/swarms", RegisterSwarmRequest{
		SwarmID:                id,
		Capabilities:           caps,
		CostPerHour:            cost,
		CurrentBudgetRemaining: budget,
	}, nil)
	require.Equal(t, http.StatusCreated, code, env.Error)
}

func errorCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

// =============================================================================
// 🧪 任务生命周期
// =============================================================================

func TestTaskLifecycle(t *testing.T) {
	api := newTestAPI(t)
	api.registerSwarm(t, "alpha", 1, 100, "code")
	api.registerSwarm(t, "beta", 1, 100, "code")

	var created map[string]string
	code, _ := api.do(t, http.MethodPost, "/api/v1/tasks", coordinator.TaskSpec{TaskType: "build", RequiredCapabilities: []string{"code"}}, &created)
	require.Equal(t, http.StatusCreated, code)
	taskID := created["task_id"]
	require.NotEmpty(t, taskID)

	var claim map[string]any
	code, _ = api.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/claim", SwarmActionRequest{SwarmID: "alpha"}, &claim)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, claim["claimed"])

	// 竞争失败不是错误
	code, _ = api.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/claim", SwarmActionRequest{SwarmID: "beta"}, &claim)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, claim["claimed"])

	// 非 owner 不能推进
	code, env := api.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/start", SwarmActionRequest{SwarmID: "beta"}, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, string(types.ErrOwnershipViolation), errorCode(env))

	code, _ = api.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/start", SwarmActionRequest{SwarmID: "alpha"}, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/complete", map[string]any{
		"swarm_id": "alpha",
		"result":   map[string]string{"artifact": "bin"},
	}, nil)
	require.Equal(t, http.StatusOK, code)

	// 终态后不能再完成
	code, env = api.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/complete", map[string]any{"swarm_id": "alpha"}, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(types.ErrInvalidTransition), errorCode(env))

	var task coordinator.Task
	code, _ = api.do(t, http.MethodGet, "/api/v1/tasks/"+taskID, nil, &task)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, coordinator.StatusCompleted, task.Status)
	assert.Equal(t, "alpha", task.Owner)
	assert.JSONEq(t, `{"artifact":"bin"}`, string(task.Result))

	got := api.outcomes.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "alpha", got[0].swarmID)
	assert.True(t, got[0].success)
	require.NotNil(t, got[0].latency, "latency derived from task timestamps")
}

func TestTaskFail_Requeues(t *testing.T) {
	api := newTestAPI(t)

	var created map[string]string
	_, _ = api.do(t, http.MethodPost, "/api/v1/tasks", coordinator.TaskSpec{TaskType: "build"}, &created)
	taskID := created["task_id"]
	_, _ = api.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/claim", SwarmActionRequest{SwarmID: "alpha"}, nil)

	latency := 12.5
	var res map[string]any
	code, _ := api.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/fail", FailTaskRequest{SwarmID: "alpha", Reason: "oom", LatencyMs: &latency}, &res)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["requeued"])

	got := api.outcomes.snapshot()
	require.Len(t, got, 1)
	assert.False(t, got[0].success)
	assert.Equal(t, 12.5, *got[0].latency)
}

func TestTaskErrors(t *testing.T) {
	api := newTestAPI(t)

	code, env := api.do(t, http.MethodGet, "/api/v1/tasks/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(types.ErrTaskNotFound), errorCode(env))

	code, env = api.do(t, http.MethodPost, "/api/v1/tasks/missing/claim", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(types.ErrInvalidRequest), errorCode(env))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{"task_type":"x"}`))
	r.Header.Set("Content-Type", "text/plain")
	api.mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

// =============================================================================
// 🧪 Swarm 与治理
// =============================================================================

func TestSwarmRegistration(t *testing.T) {
	api := newTestAPI(t)

	code, env := api.do(t, http.MethodPost, "/api/v1/swarms", RegisterSwarmRequest{SwarmID: "s", CostPerHour: 0}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "zero cost rejected before any registration is written")
	assert.Equal(t, string(types.ErrInvalidRequest), errorCode(env))
	_, found := api.gov.Profile("s")
	assert.False(t, found)

	api.registerSwarm(t, "s", 2, 10, "code", "review")

	var detail SwarmDetail
	code, _ = api.do(t, http.MethodGet, "/api/v1/swarms/s", nil, &detail)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"code", "review"}, detail.Registration.Capabilities)
	require.NotNil(t, detail.Profile)
	assert.Equal(t, 1.0, detail.Profile.ReputationScore)
	require.NotNil(t, detail.Breaker)
	assert.Equal(t, governor.BreakerClosed, detail.Breaker.State)

	code, _ = api.do(t, http.MethodDelete, "/api/v1/swarms/s", nil, nil)
	require.Equal(t, http.StatusOK, code)
	code, env = api.do(t, http.MethodGet, "/api/v1/swarms/s", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(types.ErrSwarmNotFound), errorCode(env))
}

func TestGovernorMatchAndBreaker(t *testing.T) {
	api := newTestAPI(t)
	api.registerSwarm(t, "cheap", 1, 5, "code", "test")
	api.registerSwarm(t, "pricey", 4, 5, "code", "test")

	var match MatchResponse
	code, _ := api.do(t, http.MethodPost, "/api/v1/governor/match", MatchRequest{RequiredCapabilities: []string{"code", "test"}}, &match)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, match.Found)
	assert.Equal(t, "cheap", match.SwarmID)
	assert.Equal(t, []string{"cheap", "pricey"}, match.Selected)

	// 预算耗尽触发熔断
	var cost map[string]any
	code, _ = api.do(t, http.MethodPost, "/api/v1/swarms/cheap/cost", TrackCostRequest{Operation: "llm", Cost: 5}, &cost)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, cost["tripped"])

	code, _ = api.do(t, http.MethodPost, "/api/v1/governor/match", MatchRequest{RequiredCapabilities: []string{"code", "test"}}, &match)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pricey", match.SwarmID)

	// 熔断会写入升级记录
	var pending []*coordinator.Escalation
	code, _ = api.do(t, http.MethodGet, "/api/v1/escalations", nil, &pending)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, pending, 1)
	assert.Equal(t, "cheap", pending[0].SwarmID)

	// 重置时操作者来自认证主体
	budget := 20.0
	w := httptest.NewRecorder()
	r := jsonRequest(t, http.MethodPost, "/api/v1/swarms/cheap/breaker/reset", ResetBreakerRequest{Budget: &budget})
	r = r.WithContext(ctxkeys.WithActor(r.Context(), "ops@example.com"))
	api.mux.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, api.gov.IsTripped("cheap"))

	events := api.audit.Events(&audit.Filter{Component: "governor", Operation: "reset_circuit_breaker"})
	require.Len(t, events, 1)
	assert.Equal(t, "ops@example.com", events[0].Params["actor"])

	code, env := api.do(t, http.MethodGet, "/api/v1/swarms/ghost/breaker", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(types.ErrSwarmNotFound), errorCode(env))
}

func TestEscalations(t *testing.T) {
	api := newTestAPI(t)

	var esc coordinator.Escalation
	code, _ := api.do(t, http.MethodPost, "/api/v1/swarms/alpha/blockers", coordinator.BlockerInfo{TaskID: "t1", Reason: "needs human approval"}, &esc)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "high", esc.Severity)
	require.NotEmpty(t, esc.PendingKey)

	var pending []*coordinator.Escalation
	_, _ = api.do(t, http.MethodGet, "/api/v1/escalations", nil, &pending)
	require.Len(t, pending, 1)

	code, _ = api.do(t, http.MethodPost, "/api/v1/escalations/resolve", ResolveEscalationRequest{PendingKey: esc.PendingKey}, nil)
	require.Equal(t, http.StatusOK, code)

	_, _ = api.do(t, http.MethodGet, "/api/v1/escalations", nil, &pending)
	assert.Empty(t, pending)

	code, _ = api.do(t, http.MethodPost, "/api/v1/swarms/alpha/blockers", coordinator.BlockerInfo{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

// =============================================================================
// 🧪 凭证与出站准入
// =============================================================================

func TestCredentialsAndAdmission(t *testing.T) {
	api := newTestAPI(t)
	api.registerSwarm(t, "egress", 1, 10, governor.CapabilityExternalHTTPProxy)
	api.registerSwarm(t, "sandboxed", 1, 10, "code")
	taskID := api.claimedTask(t, "egress")

	// 只有任务 owner 可以领取凭证
	code, env := api.do(t, http.MethodPost, "/api/v1/credentials", GenerateCredentialRequest{SwarmID: "sandboxed", TaskID: taskID}, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, string(types.ErrOwnershipViolation), errorCode(env))

	code, env = api.do(t, http.MethodPost, "/api/v1/credentials", GenerateCredentialRequest{SwarmID: "egress", TaskID: "missing"}, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(types.ErrTaskNotFound), errorCode(env))

	var cred credential.ScopedCredentials
	code, _ = api.do(t, http.MethodPost, "/api/v1/credentials", GenerateCredentialRequest{
		SwarmID:          "egress",
		TaskID:           taskID,
		TTLSeconds:       60,
		AllowedEndpoints: []string{"api.github.com"},
	}, &cred)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, cred.Token)

	var view CredentialView
	code, _ = api.do(t, http.MethodPost, "/api/v1/credentials/validate", ValidateCredentialRequest{Token: cred.Token, Endpoint: "api.github.com"}, &view)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "egress", view.SwarmID)

	code, env = api.do(t, http.MethodPost, "/api/v1/credentials/validate", ValidateCredentialRequest{Token: cred.Token, Endpoint: "evil.example"}, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, string(types.ErrUnauthorizedEndpoint), errorCode(env))

	var decision gateway.Decision
	code, _ = api.do(t, http.MethodPost, "/api/v1/gateway/admit", AdmitRequest{Token: cred.Token, SwarmID: "egress", Endpoint: "api.github.com"}, &decision)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, taskID, decision.TaskID)

	// 凭证属于另一个 swarm
	code, env = api.do(t, http.MethodPost, "/api/v1/gateway/admit", AdmitRequest{Token: cred.Token, SwarmID: "sandboxed", Endpoint: "api.github.com"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, string(types.ErrInvalidCredential), errorCode(env))

	// 轮换后旧令牌失效
	var rotated struct {
		Rotated    bool                          `json:"rotated"`
		Credential *credential.ScopedCredentials `json:"credential"`
	}
	code, _ = api.do(t, http.MethodPost, "/api/v1/credentials/rotate", RotateCredentialRequest{Token: cred.Token}, &rotated)
	require.Equal(t, http.StatusOK, code)
	require.True(t, rotated.Rotated)
	require.NotNil(t, rotated.Credential)
	assert.NotEqual(t, cred.Token, rotated.Credential.Token)
	freshToken := rotated.Credential.Token

	code, _ = api.do(t, http.MethodPost, "/api/v1/credentials/validate", ValidateCredentialRequest{Token: cred.Token, Endpoint: "api.github.com"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	var again struct {
		Rotated    bool                          `json:"rotated"`
		Credential *credential.ScopedCredentials `json:"credential"`
	}
	code, _ = api.do(t, http.MethodPost, "/api/v1/credentials/rotate", RotateCredentialRequest{Token: cred.Token}, &again)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, again.Rotated)
	assert.Nil(t, again.Credential)

	code, _ = api.do(t, http.MethodPost, "/api/v1/credentials/revoke", TokenRequest{Token: freshToken}, nil)
	require.Equal(t, http.StatusOK, code)
}

func TestAdmission_CapabilityDenied(t *testing.T) {
	api := newTestAPI(t)
	api.registerSwarm(t, "sandboxed", 1, 10, "code")
	taskID := api.claimedTask(t, "sandboxed")

	var cred credential.ScopedCredentials
	code, _ := api.do(t, http.MethodPost, "/api/v1/credentials", GenerateCredentialRequest{SwarmID: "sandboxed", TaskID: taskID}, &cred)
	require.Equal(t, http.StatusCreated, code)

	code, env := api.do(t, http.MethodPost, "/api/v1/gateway/admit", AdmitRequest{Token: cred.Token, SwarmID: "sandboxed", Endpoint: "x.example"}, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, string(types.ErrCapabilityDenied), errorCode(env))
}

// =============================================================================
// 🧪 SLO 与信誉
// =============================================================================

func TestSLOAndReputationPublish(t *testing.T) {
	api := newTestAPI(t)
	api.registerSwarm(t, "s", 1, 10, "code")

	code, _ := api.do(t, http.MethodPut, "/api/v1/swarms/s/slo", slo.ServiceLevelObjective{P99LatencyMs: 100, SuccessRate: 0.9, Availability: 0.99}, nil)
	require.Equal(t, http.StatusOK, code)

	var report SLOReport
	_, _ = api.do(t, http.MethodGet, "/api/v1/swarms/s/slo", nil, &report)
	assert.Nil(t, report.Compliance, "no samples yet")

	for i := 0; i < 4; i++ {
		latency := 50.0
		code, _ = api.do(t, http.MethodPost, "/api/v1/swarms/s/metrics", RecordMetricRequest{LatencyMs: &latency, Success: i != 0}, nil)
		require.Equal(t, http.StatusAccepted, code)
	}

	_, _ = api.do(t, http.MethodGet, "/api/v1/swarms/s/slo", nil, &report)
	require.NotNil(t, report.Compliance)
	assert.Equal(t, 4, report.SampleCount)
	assert.InDelta(t, 0.75, report.Compliance.SuccessRate, 1e-9)
	assert.False(t, report.Compliance.Compliant)

	var score slo.ReputationScore
	code, _ = api.do(t, http.MethodPost, "/api/v1/swarms/s/reputation/publish", nil, &score)
	require.Equal(t, http.StatusOK, code)
	assert.Less(t, score.Score, 1.0)

	profile, ok := api.gov.Profile("s")
	require.True(t, ok)
	assert.InDelta(t, score.Score, profile.ReputationScore, 1e-9)

	var rep ReputationReport
	_, _ = api.do(t, http.MethodGet, "/api/v1/swarms/s/reputation", nil, &rep)
	require.NotNil(t, rep.Current)
	assert.Len(t, rep.History, 1)

	code, _ = api.do(t, http.MethodPost, "/api/v1/swarms/s/reputation/decay", DecayRequest{Rate: 2, DaysInactive: 1}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// 未注册到治理器的 swarm 无法接收信誉分
	code, env := api.do(t, http.MethodPost, "/api/v1/swarms/ghost/reputation/publish", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(types.ErrSwarmNotFound), errorCode(env))
}

// =============================================================================
// 🧪 签名
// =============================================================================

func TestSignatureVerify(t *testing.T) {
	api := newTestAPI(t)
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	code, _ := api.do(t, http.MethodPost, "/api/v1/signatures/keys", RegisterKeyRequest{AgentID: "agent-1", PublicKey: base64.StdEncoding.EncodeToString(pub)}, nil)
	require.Equal(t, http.StatusCreated, code)

	code, _ = api.do(t, http.MethodPost, "/api/v1/signatures/keys", RegisterKeyRequest{AgentID: "agent-2", PublicKey: "not-base64!"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	msg, err := signature.Sign(priv, "agent-1", map[string]any{"op": "deploy"})
	require.NoError(t, err)

	var result signature.VerificationResult
	code, _ = api.do(t, http.MethodPost, "/api/v1/signatures/verify", msg, &result)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, result.Valid)
	assert.Equal(t, signature.StatusValid, result.Status)

	stranger, err := signature.Sign(priv, "agent-9", map[string]any{"op": "deploy"})
	require.NoError(t, err)
	code, env := api.do(t, http.MethodPost, "/api/v1/signatures/verify", stranger, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, string(types.ErrUnknownAgent), errorCode(env))

	code, _ = api.do(t, http.MethodDelete, "/api/v1/signatures/keys/agent-1", nil, nil)
	require.Equal(t, http.StatusOK, code)
}

// =============================================================================
// 🧪 WebSocket 推送
// =============================================================================

func TestPushStream(t *testing.T) {
	api := newTestAPI(t)
	api.registerSwarm(t, "ws", 1, 10, "code")

	srv := httptest.NewServer(api.mux)
	defer srv.Close()

	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/swarms/ws/push"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// 推送是通知而非投递，等待监听建立后再写入
	var task coordinator.Task
	received := make(chan coordinator.Task, 1)
	go func() {
		if err := wsjson.Read(ctx, conn, &task); err == nil {
			received <- task
		}
	}()
	require.Eventually(t, func() bool {
		code, _ := api.do(t, http.MethodPost, "/api/v1/swarms/ws/push", coordinator.Task{TaskID: "pushed"}, nil)
		if code != http.StatusAccepted {
			return false
		}
		select {
		case got := <-received:
			return got.TaskID == "pushed"
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestPushStream_UnknownSwarm(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/swarms/ghost/push")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, string(types.ErrSwarmNotFound), errorCode(env))
}
