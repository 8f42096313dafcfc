package coordination

import (
	"fmt"
	"strings"
	"time"
)

// Unclaimed 是任务 owner 键在无人认领时的取值。
const Unclaimed = "unclaimed"

// 键空间前缀
const (
	SwarmPrefix           = "swarms/"
	TaskPrefix            = "tasks/"
	BroadcastPrefix       = "tasks/broadcast/"
	BlockerPrefix         = "blockers/"
	PendingBlockersPrefix = "orchestrator/blockers/pending"
)

// SwarmRegistrationKey swarms/{id}/registration
func SwarmRegistrationKey(swarmID string) string {
	return SwarmPrefix + swarmID + "/registration"
}

// TaskDataKey tasks/{id}/data
func TaskDataKey(taskID string) string {
	return TaskPrefix + taskID + "/data"
}

// TaskOwnerKey tasks/{id}/owner
func TaskOwnerKey(taskID string) string {
	return TaskPrefix + taskID + "/owner"
}

// BroadcastKey tasks/broadcast/{swarmId}
func BroadcastKey(swarmID string) string {
	return BroadcastPrefix + swarmID
}

// BlockerKey blockers/{swarmId}/{ts}，ts 为纳秒时间戳，保证同一 swarm 下键有序且不冲突。
func BlockerKey(swarmID string, at time.Time) string {
	return fmt.Sprintf("%s%s/%d", BlockerPrefix, swarmID, at.UnixNano())
}

// PendingBlockerKey orchestrator/blockers/pending/{swarmId}/{ts}
func PendingBlockerKey(swarmID string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%d", PendingBlockersPrefix, swarmID, at.UnixNano())
}

// PendingBlockersIndexKey 是待处理升级记录的索引键。
func PendingBlockersIndexKey() string {
	return PendingBlockersPrefix
}

// ValidID 校验 swarm / task ID 不会破坏键空间结构。
func ValidID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/*?[]\\ \t\n")
}
