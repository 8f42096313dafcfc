// 版权所有 2024 Swarmplane Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 swarmplane 服务的配置加载。
//
// 配置优先级为 默认值 → YAML 文件 → SWARMPLANE_* 环境变量，
// 加载后通过 Validate 做一次整体校验。治理策略等字段在进程生命周期内
// 视为不可变，因此不提供运行时热重载。
package config
