// Package metrics 定义群聊引擎的 Prometheus 指标：触发判定、生成网关、
// 一致性检查、回复流水线、消息存储、缓存与连接池。
package metrics
