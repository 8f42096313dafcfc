package coordinator

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/swarmplane/types"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	StatusUnclaimed  TaskStatus = "unclaimed"
	StatusClaimed    TaskStatus = "claimed"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Owned 报告该状态下任务是否必须有 owner。
func (s TaskStatus) Owned() bool {
	switch s {
	case StatusClaimed, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal 报告是否为终态
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task 任务记录，存储于 tasks/{id}/data
type Task struct {
	TaskID               string          `json:"task_id"`
	TaskType             string          `json:"task_type"`
	Status               TaskStatus      `json:"status"`
	Owner                string          `json:"owner,omitempty"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`
	Attempts             int             `json:"attempts"`
	CreatedAt            time.Time       `json:"created_at"`
	ClaimedAt            *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	Result               json.RawMessage `json:"result,omitempty"`
	Error                string          `json:"error,omitempty"`
	Metadata             map[string]any  `json:"metadata,omitempty"`
}

// TaskSpec 创建任务的输入
type TaskSpec struct {
	TaskID               string         `json:"task_id,omitempty"`
	TaskType             string         `json:"task_type"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// SwarmRegistration 存储于 swarms/{id}/registration
type SwarmRegistration struct {
	SwarmID      string         `json:"swarm_id"`
	Capabilities []string       `json:"capabilities"`
	RegisteredAt time.Time      `json:"registered_at"`
	TaskCount    int            `json:"task_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// BlockerInfo 描述阻塞原因
type BlockerInfo struct {
	TaskID   string         `json:"task_id,omitempty"`
	Reason   string         `json:"reason"`
	Severity string         `json:"severity,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Escalation 待外部编排方处理的升级记录
type Escalation struct {
	SwarmID    string         `json:"swarm_id"`
	TaskID     string         `json:"task_id,omitempty"`
	Reason     string         `json:"reason"`
	Severity   string         `json:"severity"`
	Details    map[string]any `json:"details,omitempty"`
	DetectedAt time.Time      `json:"detected_at"`
	BlockerKey string         `json:"blocker_key"`
	PendingKey string         `json:"pending_key"`
}

// 包级错误，配合 errors.Is 使用
var (
	ErrTaskNotFound       = types.NewError(types.ErrTaskNotFound, "task not found")
	ErrOwnershipViolation = types.NewError(types.ErrOwnershipViolation, "caller does not own task")
	ErrInvalidTransition  = types.NewError(types.ErrInvalidTransition, "invalid task state transition")
	ErrSwarmNotFound      = types.NewError(types.ErrSwarmNotFound, "swarm not registered")
	ErrInvalidRequest     = types.NewError(types.ErrInvalidRequest, "invalid request")
)

func taskNotFound(taskID string) error {
	return types.Errorf(types.ErrTaskNotFound, "task %s not found", taskID).
		WithHTTPStatus(404).
		WithComponent("coordinator")
}

func ownershipViolation(taskID, swarmID, owner string) error {
	return types.Errorf(types.ErrOwnershipViolation, "swarm %s does not own task %s (owner: %s)", swarmID, taskID, owner).
		WithHTTPStatus(403).
		WithComponent("coordinator")
}

func invalidTransition(taskID string, from, to TaskStatus) error {
	return types.Errorf(types.ErrInvalidTransition, "task %s cannot move from %s to %s", taskID, from, to).
		WithHTTPStatus(409).
		WithComponent("coordinator")
}

func invalidRequest(format string, args ...any) error {
	return types.Errorf(types.ErrInvalidRequest, format, args...).
		WithHTTPStatus(400).
		WithComponent("coordinator")
}
