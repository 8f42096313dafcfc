// Copyright (c) Swarmplane Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Swarmplane HTTP API 的请求处理器实现。

# 概述

handlers 包把协调器、治理器与信任层的操作映射为 /api/v1 下的 HTTP 端点，
所有 Handler 遵循标准 net/http 接口，路由使用 Go 1.22 的方法模式注册。
组件之间的联动（任务结果回写熔断器与 SLO、信誉分推送给治理器）在这一层完成。

# 核心类型

  - TaskHandler       任务创建与状态流转，结果经 OutcomeRecorder 回写
  - SwarmHandler      swarm 注册、注销与任务推送（含 WebSocket 订阅）
  - GovernorHandler   能力匹配、成本追踪、熔断状态与重置
  - EscalationHandler 阻塞上报与升级处理
  - CredentialHandler 凭证签发、校验、撤销、轮换与清理
  - SLOHandler        SLO 目标、观测与信誉分
  - SignatureHandler  公钥登记与签名消息校验
  - GatewayHandler    出站准入
  - HealthHandler     /health、/healthz、/ready、/version
  - Set               汇总上述处理器并注册路由

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteFailure
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - 错误码到 HTTP 状态码的映射，types.Error 自带状态码时优先使用
*/
package handlers
