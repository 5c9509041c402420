// =============================================================================
// NarraFlow 主入口
// =============================================================================
// 视频解说流水线的完整入口点，包含 HTTP 服务、单次运行、健康检查、
// Prometheus 指标
//
// 使用方法:
//
//	narraflow serve                               # 启动服务
//	narraflow serve --config narraflow.yaml       # 指定配置文件
//	narraflow run --frames ./frames               # 执行一次运行并输出解说词
//	narraflow providers --role vision             # 列出 Provider 配置状态
//	narraflow health                              # 探测已配置的 Provider
//	narraflow version                             # 显示版本信息
// =============================================================================

// @title NarraFlow API
// @version 1.0.0
// @description NarraFlow turns sampled video keyframes into a narration script through vision and text LLM providers.
// @description
// @description ## Features
// @description - Multi-provider vision description and narration generation (Gemini, OpenAI, DeepSeek, Qwen, etc.)
// @description - Async run submission with WebSocket state streaming
// @description - Run state store (memory / Redis) and run history (SQLite / Postgres)
// @description - Health monitoring and Prometheus metrics

// @contact.name NarraFlow Team
// @contact.url https://github.com/BaSui01/narraflow

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/narraflow/config"
	"github.com/BaSui01/narraflow/internal/telemetry"
	"github.com/BaSui01/narraflow/internal/transport"
	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/pipeline"
	"github.com/BaSui01/narraflow/providers"
	"github.com/BaSui01/narraflow/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "run":
		runOnce(os.Args[2:])
	case "providers":
		runProviders(os.Args[2:])
	case "health":
		runHealthCheck(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	// 解析命令行参数
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	// 加载配置（Load 内部已做完整校验）
	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting NarraFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// 初始化 OpenTelemetry
	otelProviders, err := telemetry.Init(telemetryConfig(cfg), logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	// 创建并启动服务器
	srv := NewServer(cfg, logger, otelProviders)
	if err := srv.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	// 等待关闭信号
	srv.WaitForShutdown()

	logger.Info("NarraFlow stopped")
}

// =============================================================================
// 🎬 run 命令（单次运行）
// =============================================================================

func runOnce(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	framesDir := fs.String("frames", "", "Directory of sampled keyframes")
	videoID := fs.String("video-id", "", "Video identifier recorded with the run")
	fs.Parse(args)

	if *framesDir == "" {
		fmt.Fprintln(os.Stderr, "run requires --frames <dir>")
		os.Exit(2)
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout 只输出解说词，日志让位到 stderr
	logCfg := cfg.Log
	if logCfg.OutputPath == "" || logCfg.OutputPath == "stdout" {
		logCfg.OutputPath = "stderr"
	}
	logger := initLogger(logCfg)
	defer logger.Sync()

	comps, err := buildComponents(cfg, nil, logger)
	if err != nil {
		logger.Error("组件装配失败", zap.Error(err))
		os.Exit(1)
	}
	defer comps.Close(logger)

	// Ctrl-C 触发取消，流水线在 cancel_grace 窗口内收尾
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, result, err := comps.orchestrator.Execute(ctx, pipeline.Input{
		VideoID:   *videoID,
		FramesDir: *framesDir,
	})
	if err != nil {
		logger.Error("运行失败",
			zap.String("run_id", run.ID),
			zap.String("reason", run.FailureReason),
		)
		os.Exit(1)
	}

	if len(result.FailedBatches) > 0 {
		logger.Warn("部分批次描述失败",
			zap.String("run_id", run.ID),
			zap.Ints("failed_batches", result.FailedBatches),
		)
	}
	logger.Info("运行完成",
		zap.String("run_id", run.ID),
		zap.Strings("providers", result.Providers),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("output_tokens", result.OutputTokens),
	)

	fmt.Println(result.Script)
}

// =============================================================================
// 📇 providers 命令
// =============================================================================

func runProviders(args []string) {
	fs := flag.NewFlagSet("providers", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	roleFlag := fs.String("role", "", "Filter by role: vision or text")
	fs.Parse(args)

	roles := []types.Role{types.RoleVision, types.RoleText}
	switch *roleFlag {
	case "":
	case "vision":
		roles = []types.Role{types.RoleVision}
	case "text":
		roles = []types.Role{types.RoleText}
	default:
		fmt.Fprintf(os.Stderr, "Unknown role: %s (expected vision or text)\n", *roleFlag)
		os.Exit(2)
	}

	// 只读命令容忍不完整的配置
	cfg, err := config.NewLoader().WithConfigPath(*configPath).SkipValidation().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tPROVIDER\tMODEL\tBASE URL\tCONFIGURED")
	for _, role := range roles {
		active := cfg.App.VisionLLMProvider
		if role == types.RoleText {
			active = cfg.App.TextLLMProvider
		}
		for _, spec := range providers.Catalog() {
			if !spec.Supports(role) {
				continue
			}
			model := spec.DefaultModel(role)
			baseURL := spec.BaseURL
			configured := "no"
			if p, ok := cfg.Profile(role, spec.ID); ok {
				if p.ModelName != "" {
					model = p.ModelName
				}
				if p.BaseURL != "" {
					baseURL = p.BaseURL
				}
				if p.Configured() {
					configured = "yes"
				}
			}
			name := spec.ID
			if spec.ID == active {
				name += " (active)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", role, name, model, baseURL, configured)
		}
	}
	tw.Flush()
}

// =============================================================================
// 🏥 health 命令
// =============================================================================

// runHealthCheck 逐个探测已配置的 Provider，任一失败则以非零码退出。
func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	timeout := fs.Duration("timeout", 10*time.Second, "Per-provider probe timeout")
	fs.Parse(args)

	cfg, err := config.NewLoader().WithConfigPath(*configPath).SkipValidation().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	client, err := transport.NewHTTPClient(cfg.Proxy, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build HTTP client: %v\n", err)
		os.Exit(1)
	}

	registry := llm.NewProviderRegistry(providers.NewConstructor(client, zap.NewNop()))
	registerProfiles(registry, cfg)

	probed, failed := 0, 0
	for _, role := range []types.Role{types.RoleVision, types.RoleText} {
		for _, profile := range registry.ListConfigured(role) {
			probed++
			provider, err := registry.Resolve(role, profile.ID)
			if err != nil {
				fmt.Printf("%-6s  %-12s  FAILED: %v\n", role, profile.ID, err)
				failed++
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), *timeout)
			status, err := provider.HealthCheck(ctx)
			cancel()
			if err != nil {
				fmt.Printf("%-6s  %-12s  FAILED: %v\n", role, profile.ID, err)
				failed++
				continue
			}
			fmt.Printf("%-6s  %-12s  OK (%s)\n", role, profile.ID, status.Latency.Round(time.Millisecond))
		}
	}

	if probed == 0 {
		fmt.Fprintln(os.Stderr, "No providers configured")
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("NarraFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`NarraFlow - Video Narration Pipeline

Usage:
  narraflow <command> [options]

Commands:
  serve      Start the NarraFlow API server
  run        Execute one pipeline run and print the narration script
  providers  List catalog providers and their configuration state
  health     Probe configured providers
  version    Show version information
  help       Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'run':
  --config <path>   Path to configuration file (YAML)
  --frames <dir>    Directory of sampled keyframes (required)
  --video-id <id>   Video identifier recorded with the run

Options for 'providers':
  --config <path>   Path to configuration file (YAML)
  --role <role>     Filter by role: vision or text

Options for 'health':
  --config <path>       Path to configuration file (YAML)
  --timeout <duration>  Per-provider probe timeout (default 10s)

Examples:
  narraflow serve --config narraflow.yaml
  narraflow run --config narraflow.yaml --frames ./frames --video-id demo
  narraflow providers --role vision
  narraflow health
  narraflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	// 构建配置
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{outputPath},
		ErrorOutputPaths: []string{"stderr"},
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}

	// 构建 logger
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
