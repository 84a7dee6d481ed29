// =============================================================================
// groupchat 命令行入口
// =============================================================================
// 对配置的数据库与模型运行回复引擎。
//
// 使用方法:
//
//	groupchat migrate --config config.yaml          # 建表
//	groupchat seed --file seed.yaml                 # 导入群、成员与初始消息
//	groupchat post --group 1 --sender 2 --body "大家好"
//	groupchat respond --group 1 --message 5 [--member 3] [--force]
//	groupchat chat --group 1 --sender 2             # 交互式聊天
//	groupchat context --group 1 --member 3          # 查看成员视角的分区上下文
//	groupchat profile --member 3
//	groupchat version
// =============================================================================

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/aigroupchat/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "seed":
		err = runSeed(os.Args[2:])
	case "post":
		err = runPost(os.Args[2:])
	case "respond":
		err = runRespond(os.Args[2:])
	case "chat":
		err = runChat(os.Args[2:])
	case "context":
		err = runContext(os.Args[2:])
	case "profile":
		err = runProfile(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("groupchat %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`groupchat - AI group chat response engine

Usage:
  groupchat <command> [options]

Commands:
  migrate   Create or update the database schema
  seed      Import groups, members and messages from a YAML file
  post      Append a message and let AI members respond
  respond   Run the response engine on an existing message
  chat      Interactive chat as a human member
  context   Show the partitioned context of a member
  profile   Show the persona of an AI member
  version   Show version information
  help      Show this help message

Common options:
  --config <path>         Path to configuration file (YAML)
  --metrics-addr <addr>   Expose Prometheus metrics on addr (e.g. :9090)

Examples:
  groupchat migrate --config config.yaml
  groupchat seed --file seed.yaml
  groupchat post --group 1 --sender 1 --body "@小艺 你好"
  groupchat respond --group 1 --message 3 --member 2 --force
  groupchat chat --group 1 --sender 1`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
