package governor

import (
	"fmt"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	// BreakerClosed 正常准入
	BreakerClosed BreakerState = iota
	// BreakerTripped 已熔断，需要显式重置
	BreakerTripped
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerTripped:
		return "tripped"
	default:
		return "unknown"
	}
}

// MarshalText 以字符串形式序列化
func (s BreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 解析 MarshalText 的输出
func (s *BreakerState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = BreakerClosed
	case "tripped":
		*s = BreakerTripped
	default:
		return fmt.Errorf("unknown breaker state %q", text)
	}
	return nil
}

// TripReason 熔断原因
type TripReason string

const (
	ReasonBudgetExhausted  TripReason = "budget_exhausted"
	ReasonFailureThreshold TripReason = "failure_threshold"
)

// BreakerStatus 熔断器快照
type BreakerStatus struct {
	State     BreakerState `json:"state"`
	Reason    TripReason   `json:"reason,omitempty"`
	Failures  int          `json:"consecutive_failures"`
	TrippedAt *time.Time   `json:"tripped_at,omitempty"`
}

// breaker 单个 swarm 的熔断状态。没有自带锁，由 Governor 的锁保护。
type breaker struct {
	state     BreakerState
	failures  int
	reason    TripReason
	trippedAt time.Time
}

// recordFailure 递增连续失败计数，达到阈值时熔断。返回是否发生了状态转换。
func (b *breaker) recordFailure(threshold int) bool {
	b.failures++
	if b.state == BreakerClosed && threshold > 0 && b.failures >= threshold {
		return b.trip(ReasonFailureThreshold)
	}
	return false
}

// recordSuccess 清零连续失败计数，不改变熔断状态。
func (b *breaker) recordSuccess() {
	b.failures = 0
}

// trip 熔断，已熔断时保持原因不变并返回 false。
func (b *breaker) trip(reason TripReason) bool {
	if b.state == BreakerTripped {
		return false
	}
	b.state = BreakerTripped
	b.reason = reason
	b.trippedAt = time.Now().UTC()
	return true
}

func (b *breaker) reset() {
	b.state = BreakerClosed
	b.failures = 0
	b.reason = ""
	b.trippedAt = time.Time{}
}

func (b *breaker) tripped() bool {
	return b.state == BreakerTripped
}

func (b *breaker) status() BreakerStatus {
	st := BreakerStatus{State: b.state, Reason: b.reason, Failures: b.failures}
	if !b.trippedAt.IsZero() {
		t := b.trippedAt
		st.TrippedAt = &t
	}
	return st
}
