// Copyright (c) Swarmplane Authors.
// Licensed under the MIT License.

/*
Package main 提供 Swarmplane 控制面服务端程序入口。

# 概述

cmd/swarmplane 是 Swarmplane 的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件与
SWARMPLANE_ 前缀环境变量、结构化日志（zap）、Prometheus 指标和 OTel 追踪。

# 核心类型

  - Server          组装协调存储、协调器、治理器与信任层，管理 API 与 Metrics 双端口
  - Middleware      HTTP 中间件函数签名 func(http.Handler) http.Handler
  - statusRecorder  包装 http.ResponseWriter 以捕获状态码，保留 Hijack 供 WebSocket 使用

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、Metrics、
    RequestLogger、CORS、RateLimiter（基于 IP）、JWTAuth（HS256）
  - 后端按配置选择：协调存储 memory/redis，凭证 memory/redis，审计 memory/database/log
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 关闭协调器与存储
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
