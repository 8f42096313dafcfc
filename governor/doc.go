// 版权所有 2024 Swarmplane Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package governor 实现 swarm 的能力与预算治理。

Governor 持有每个 swarm 的画像（能力、单价、信誉、剩余预算）和熔断器状态，
负责三件事：

  - 准入匹配：FindQualifiedSwarm 按能力覆盖率、信誉与单价为候选打分，
    覆盖率低于 MinCapabilityMatch 或单价超限的 swarm 不参与，
    同分时取 swarm ID 字典序最小者。
  - 成本核算：TrackCost 扣减预算（允许为负）并转发给账本，余额不大于 0 时熔断。
  - 熔断：连续失败达到阈值或预算耗尽时熔断。熔断没有自动半开状态，
    只能通过 ResetCircuitBreaker 显式恢复，且每次熔断都会发出高等级审计
    并通过 Escalator 写入升级记录。

信誉分只由信誉系统通过 UpdateReputation 写入。
*/
package governor
