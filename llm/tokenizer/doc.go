// Package tokenizer 为提示词做 token 计数，用于上下文长度保护与用量统计。
package tokenizer
