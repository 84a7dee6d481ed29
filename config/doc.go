// Package config 提供群聊引擎的配置结构、默认值与 YAML + 环境变量加载器。
package config
