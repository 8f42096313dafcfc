// 版权所有 2024 Swarmplane Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理服务进程共享的 Redis 连接，并提供带 TTL 的 JSON 缓存读写。

# 概述

Manager 负责 go-redis 客户端的创建、可选 TLS、连接探活、后台健康检查与关闭。
coordination.RedisStore、credential.RedisStore 通过 Client() 共用同一个连接池；
signature.RedisKeyRegistry 直接使用 GetJSON/SetJSON 存放 30 天有效的公钥记录。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/Delete/Expire/Ping
    以及 GetJSON/SetJSON 便捷方法。
  - Config：地址、密码、连接池、默认 TTL、TLS 开关与健康检查间隔。

# 错误语义

键不存在时返回 ErrCacheMiss，可用 errors.Is 或 IsCacheMiss 判断。
Manager 关闭后所有操作返回 ErrClosed。
*/
package cache
