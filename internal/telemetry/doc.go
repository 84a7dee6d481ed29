// Package telemetry 初始化 OpenTelemetry 的 trace 与 metric provider，并提供 span 辅助函数。
package telemetry
