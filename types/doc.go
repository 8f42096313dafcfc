// Copyright (c) Swarmplane Authors.
// Licensed under the MIT License.

/*
Package types 提供 swarmplane 协调平面的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 coordination、coordinator、
governor、trust 与 api 等上层模块提供统一的错误契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码、Retryable、Component 标记

# 主要能力

  - 按错误码匹配：Error 实现 Is，各包的哨兵错误可直接用 errors.Is 判断
  - 错误工具链：GetErrorCode / IsErrorCode / IsRetryable 均穿透 %w 包装
*/
package types
