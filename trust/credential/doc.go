/*
Package credential 为已认领任务的 swarm 签发短期、限定端点的访问令牌。

# 概述

每次认领任务时由 Manager.Generate 生成一组 ScopedCredentials：32 字节随机数
经 base64url 编码作为令牌，绑定 swarm、任务、TTL 与端点白名单。边界服务（例如
出站 HTTP 代理）在转发前调用 Manager.Validate。

# 校验规则

  - 未知或已吊销的令牌返回 INVALID_CREDENTIAL
  - 超过 created_at + ttl_seconds 返回 CREDENTIAL_EXPIRED，并同时从存储中移除
  - 端点不在白名单中返回 UNAUTHORIZED_ENDPOINT

端点白名单为空时允许访问任何端点。这是有意保留的宽松默认值，需要限制出口的
调用方必须显式传入白名单。

吊销是永久的：令牌记录被清理后，吊销集合中的条目仍然有效。轮换等价于生成新令牌
加吊销旧令牌，旧凭证本身从不被修改。

# 存储

Store 接口有两种实现：进程内 MemoryStore 与基于 go-redis 的 RedisStore。
RedisStore 以令牌的 BLAKE3 摘要作为键，Redis 中不出现明文令牌。
*/
package credential
