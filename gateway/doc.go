// Package gateway 定义出站代理等边界服务在转发请求前必须执行的准入检查。
//
// 本包不实现代理本身，只提供契约：凭证对目标端点有效，凭证归属与请求方一致，
// 并且 swarm 在治理器中持有 network.http.proxy.external 能力且未熔断。
package gateway
