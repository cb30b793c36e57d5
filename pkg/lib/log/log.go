// Package log 提供 secchord 统一日志接口
//
// 基于 Go 标准库 log/slog 封装。组件通过 Logger(name) 获取懒加载 logger，
// 每次输出时读取当前的默认 handler，因此可以在运行时切换输出目标。
//
// 环境变量：
//   - SECCHORD_LOG_LEVEL: 子系统=级别,子系统=级别,默认级别
//     示例: routing/secchord=debug,rpc=warn,info
//   - SECCHORD_LOG_FORMAT: text 或 json
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// ============================================================================
//                              环境变量配置
// ============================================================================

// Config 日志配置
type Config struct {
	// DefaultLevel 默认日志级别
	DefaultLevel slog.Level

	// SubsystemLevels 各子系统的日志级别
	SubsystemLevels map[string]slog.Level

	// JSON 是否输出 JSON 格式
	JSON bool
}

// LevelFor 获取子系统日志级别
//
// 支持前缀匹配："routing" 的配置同样作用于 "routing/secchord"。
func (c *Config) LevelFor(subsystem string) slog.Level {
	best, bestLen := c.DefaultLevel, -1
	for name, level := range c.SubsystemLevels {
		if (subsystem == name || strings.HasPrefix(subsystem, name+"/")) && len(name) > bestLen {
			best, bestLen = level, len(name)
		}
	}
	return best
}

// minLevel 所有配置中的最低级别，用作默认 handler 的过滤级别
func (c *Config) minLevel() slog.Level {
	min := c.DefaultLevel
	for _, level := range c.SubsystemLevels {
		if level < min {
			min = level
		}
	}
	return min
}

var (
	configMu sync.RWMutex
	config   = parseConfig(os.Getenv("SECCHORD_LOG_LEVEL"), os.Getenv("SECCHORD_LOG_FORMAT"))
)

// parseConfig 解析环境变量配置
func parseConfig(levelStr, formatStr string) *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		JSON:            strings.EqualFold(formatStr, "json"),
	}

	for _, part := range strings.Split(levelStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if name, levelName, ok := strings.Cut(part, "="); ok {
			if level, ok := parseLevel(levelName); ok {
				cfg.SubsystemLevels[strings.TrimSpace(name)] = level
			}
			continue
		}
		if level, ok := parseLevel(part); ok {
			cfg.DefaultLevel = level
		}
	}
	return cfg
}

// parseLevel 解析日志级别名称
func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Configure 用给定的级别字符串重新配置（格式同 SECCHORD_LOG_LEVEL）
//
// 主要供命令行 -log-level 参数使用。
func Configure(levelStr string) {
	configMu.Lock()
	cfg := parseConfig(levelStr, "")
	cfg.JSON = config.JSON
	config = cfg
	configMu.Unlock()
	SetOutput(os.Stderr)
}

func currentConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return config
}

// ============================================================================
//                              输出目标
// ============================================================================

// SetOutput 设置日志输出目标
//
// 重新创建默认 logger，已有的 LazyLogger 会自动使用新目标。
func SetOutput(w io.Writer) {
	cfg := currentConfig()
	opts := &slog.HandlerOptions{Level: cfg.minLevel()}
	if cfg.JSON {
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
}

// Discard 丢弃所有日志（测试用）
func Discard() {
	SetOutput(io.Discard)
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载组件 logger
//
//	var logger = log.Logger("routing/secchord")
//	logger.Debug("hop settled", "hop", n)
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

// Enabled 当前配置下该级别是否输出
func (l *LazyLogger) Enabled(level slog.Level) bool {
	return level >= currentConfig().LevelFor(l.component)
}

func (l *LazyLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	slog.Default().With("component", l.component).Log(ctx, level, msg, args...)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.log(context.Background(), slog.LevelError, msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// WarnContext 带 context 的 Warn 日志
func (l *LazyLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return slog.Default().With("component", l.component).With(args...)
}

func init() {
	SetOutput(os.Stderr)
}
