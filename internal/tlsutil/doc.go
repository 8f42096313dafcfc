// Package tlsutil 集中管理 TLS 参数：HTTP 监听器证书加载、升级 webhook 客户端、
// Redis 连接的 ServerName 推导。所有入口共享同一份加固基线。
package tlsutil
