// 版权所有 2024 Swarmplane Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package audit 提供协调平面共享的审计接收端。

所有组件通过 Sink 接口上报操作事件（组件、操作、参数、严重级别）。
上报是即发即弃的：调用方永远不会因审计失败而阻塞或出错。

Logger 是异步实现：事件进入有界队列，由固定数量的 worker 写入一个或多个
Backend（内存、gorm）。队列满时丢弃事件并记录告警。未配置审计时使用
NewZapSink 退化为本地结构化日志。
*/
package audit
