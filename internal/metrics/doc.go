// 版权所有 2024 Swarmplane Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的协调平面指标采集能力，覆盖
HTTP、任务协调、治理、信任层与数据库五个维度。

# 概述

Collector 通过 promauto 注册 Counter、Histogram、Gauge 等向量指标，
按 namespace 隔离。NewCollectorWithRegistry 允许注入独立 Registry，
测试中可重复创建而不会发生重复注册。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 任务协调：认领结果（won/lost/error）、认领耗时、状态转换、升级次数。
  - 治理：熔断次数按原因分组，成本按 swarm 累计。
  - 信任层：凭证校验结果、签名校验状态（区分缓存命中）。
  - 数据库：活跃/空闲连接数 Gauge。
*/
package metrics
