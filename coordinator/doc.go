// 版权所有 2024 Swarmplane Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package coordinator 在协调基座之上实现任务生命周期管理。

# 状态机

	unclaimed → claimed → in_progress（可选）→ completed | failed

失败的任务默认回到 unclaimed 以便重新认领；配置 MaxAttempts 后，
认领次数达到上限的任务停留在 failed。

# 认领

ClaimTask 通过单键比较交换完成：owner 键等于 "unclaimed" 时写入认领方 ID。
并发认领同一任务时只有一个调用返回 true，其余返回 false 且没有任何副作用。
owner 键是所有权的唯一依据，任务数据的后续写入都以 owner 仍为当前认领方为条件。

# 推送与升级

RegisterSwarm 可附带推送通道，协调器监听 tasks/broadcast/{id} 并把每次写入
解码为 Task 转发。推送是通知而不是持久队列：监听重启不会回放历史。

DetectBlocker 写入阻塞记录与待处理升级记录，并通过有界任务池异步通知
EscalationNotifier，调用方不会被通知阻塞。
*/
package coordinator
