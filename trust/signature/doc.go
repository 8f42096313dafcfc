/*
Package signature 校验 swarm 之间传递的签名消息。

# 消息格式

消息为 JSON 对象 {id, from, payload, payload_hash, signature, timestamp}：

  - payload_hash：payload 按 RFC 8949 核心确定性编码转为 CBOR 后的 BLAKE3-256，十六进制
  - signature：对 32 字节原始摘要的 Ed25519 签名，标准 base64，解码后必须恰好 64 字节
  - id 缺省时取 BLAKE3(from|payload_hash|signature) 的十六进制

# 校验顺序

Verifier.Verify 依次执行以下检查，遇到第一个失败即返回：

 1. 输入必须是可解析的消息对象，否则为 error
 2. 无签名：strict 模式为 unsigned，permissive 模式通过并附带警告
 3. 签名长度
 4. 结果缓存命中（默认 60 秒）直接返回
 5. 解析发送方公钥：进程内缓存 → KeyRegistry → 内存兜底，都没有则为 unknown_agent
 6. 时间戳早于重放窗口（默认 300 秒）为 replay_attack
 7. 重新计算摘要并比对，不一致为 invalid（篡改）
 8. 验签，失败为 invalid

unsigned、unknown_agent、replay_attack、invalid 都会写入审计。
*/
package signature
