// Package slo 跟踪每个 swarm 的服务水平并据此计算信誉分。
//
// Tracker 为每个 swarm 维护有界滑动窗口（默认 1000 条），按需计算
// SLOCompliance；不合规时写入有界违规日志并审计。ReputationSystem 基于合规快照
// 扣分，结果追加到每个 swarm 最多 100 条的历史中，最新一条即当前分数。
// Publish 把分数推送给 ReputationSink（通常是 governor），这是治理器信誉分的唯一写入路径。
//
// 时间衰减只在调用 ApplyDecay 时生效，不会隐式执行。
package slo
