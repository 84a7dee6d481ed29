// Package cache 封装 Redis 客户端，提供带前缀的键值、JSON 值与有界列表操作。
//
// 成员缓存与 AI 回复历史都建立在这里。
package cache
