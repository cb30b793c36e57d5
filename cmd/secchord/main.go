// Package main 提供 secchord 命令行入口
//
// 三种模式：
//   - sim: 在进程内仿真环上批量查找，统计被劫持与失败的比例
//   - serve: 以静态环成员身份在 QUIC 上提供路由应答
//   - lookup: 加入静态环并执行一次查找
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dep2p/go-secchord"
	"github.com/dep2p/go-secchord/config"
	"github.com/dep2p/go-secchord/pkg/lib/log"
)

var logger = log.Logger("secchord/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
var (
	// ─────────────────────────────────────────────────────────────────────
	// 通用参数
	// ─────────────────────────────────────────────────────────────────────
	mode       = flag.String("mode", "sim", "运行模式 (sim/serve/lookup)")
	configFile = flag.String("config", "", "配置文件路径（JSON）")
	preset     = flag.String("preset", "", "预设配置 (test/hardened)")
	succList   = flag.Int("succ", 0, "后继列表长度（0 = 使用配置）")
	quorum     = flag.Int("quorum", -1, "法定数（0 = 多数，-1 = 使用配置）")
	dataDir    = flag.String("data-dir", "", "数据目录（默认: ./data）")
	metrics    = flag.String("metrics", "", "指标 HTTP 监听地址，如 127.0.0.1:9100")
	logLevel   = flag.String("log-level", "", "日志级别，如 info 或 routing/secchord=debug,warn")

	// ─────────────────────────────────────────────────────────────────────
	// 仿真参数
	// ─────────────────────────────────────────────────────────────────────
	nodes     = flag.Int("nodes", 64, "仿真环节点数")
	malicious = flag.Int("malicious", 4, "伪造应答的节点数")
	crashed   = flag.Int("crashed", 2, "崩溃的节点数")
	lookups   = flag.Int("lookups", 200, "查找次数")
	seed      = flag.Int64("seed", 1, "随机种子")

	// ─────────────────────────────────────────────────────────────────────
	// 静态环参数
	// ─────────────────────────────────────────────────────────────────────
	peers = flag.String("peers", "", "环成员列表，格式 id@host:port,...（id 为十六进制）")
	self  = flag.String("self", "", "本节点 id（十六进制）")
	key   = flag.String("key", "", "lookup 模式下要查找的 key（按 SHA-1 映射到环上）")

	// ─────────────────────────────────────────────────────────────────────
	// 信息显示
	// ─────────────────────────────────────────────────────────────────────
	showVersion = flag.Bool("version", false, "显示版本信息")
	showHelp    = flag.Bool("help", false, "显示帮助信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		printVersion()
		return nil
	}
	if *showHelp {
		printHelp()
		return nil
	}
	if *logLevel != "" {
		log.Configure(*logLevel)
	}

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("📦 %s\n", secchord.VersionInfo())
	logger.Info("启动 secchord", "mode", *mode, "version", secchord.Version)

	switch *mode {
	case "sim":
		return runSim(ctx, cfg)
	case "serve":
		return runServe(ctx, cfg)
	case "lookup":
		return runLookup(ctx, cfg)
	default:
		return fmt.Errorf("未知模式: %s", *mode)
	}
}

// buildConfig 构建统一配置
//
// 配置优先级（从高到低）：
//  1. 命令行参数
//  2. 预设
//  3. 配置文件
//  4. 默认值
func buildConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}
	if err := config.ApplyPreset(cfg, *preset); err != nil {
		return nil, err
	}

	if *succList > 0 {
		cfg.Routing.SuccListSize = *succList
	}
	if *quorum >= 0 {
		cfg.Routing.Quorum = *quorum
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
		cfg.Storage.InMemory = false
	}
	if *metrics != "" {
		cfg.Metrics.Enable = true
		cfg.Metrics.ListenAddr = *metrics
	}

	return config.ValidateAndFix(cfg)
}

// startNode 启动节点并打印基本信息
func startNode(ctx context.Context, opts ...secchord.Option) (*secchord.Node, error) {
	node, err := secchord.Start(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("启动失败: %w", err)
	}

	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("节点:      %s\n", node.Self().String())
	if addr := node.Addr(); addr != "" {
		fmt.Printf("监听:      %s\n", addr)
	}
	if addr := node.MetricsAddr(); addr != "" {
		fmt.Printf("指标:      http://%s/metrics\n", addr)
	}
	rc := node.Config().Routing
	fmt.Printf("路由:      s=%d q=%d\n", rc.SuccListSize, rc.EffectiveQuorum())
	fmt.Println("═══════════════════════════════════════════════════════════════")
	return node, nil
}

// runServe 作为静态环成员提供路由应答，直到收到退出信号
func runServe(ctx context.Context, cfg *config.Config) error {
	local, err := staticLocal(cfg)
	if err != nil {
		return err
	}
	cfg.RPC.Transport = config.TransportQUIC
	cfg.RPC.ListenAddr = local.Self().Addr

	node, err := startNode(ctx, secchord.WithConfig(cfg), secchord.WithLocalNode(local))
	if err != nil {
		return err
	}
	defer func() { _ = node.Close() }()

	fmt.Println("节点已启动，按 Ctrl+C 退出")
	<-ctx.Done()
	fmt.Println("\n正在关闭节点...")
	printSuspects(node)
	return nil
}

// runLookup 加入静态环并查找一次
func runLookup(ctx context.Context, cfg *config.Config) error {
	if *key == "" {
		return errors.New("lookup 模式需要 -key")
	}
	local, err := staticLocal(cfg)
	if err != nil {
		return err
	}
	cfg.RPC.Transport = config.TransportQUIC
	cfg.RPC.ListenAddr = local.Self().Addr

	node, err := startNode(ctx, secchord.WithConfig(cfg), secchord.WithLocalNode(local))
	if err != nil {
		return err
	}
	defer func() { _ = node.Close() }()

	target := keyID(*key)
	it, err := node.Iterator(target)
	if err != nil {
		return err
	}
	defer it.Close()

	start := time.Now()
	res, err := it.Run(ctx, false)
	it.Print(os.Stdout)
	if err != nil {
		return fmt.Errorf("查找失败: %w", err)
	}
	fmt.Printf("key %s -> %s（%d 跳，%s）\n",
		target.ShortString(), res.Owner.String(), len(res.Path)-1, time.Since(start).Round(time.Millisecond))
	return nil
}

// printSuspects 打印可疑节点
func printSuspects(node *secchord.Node) {
	suspects := node.Suspects()
	if len(suspects) == 0 {
		fmt.Println("未发现可疑节点")
		return
	}
	fmt.Println("可疑节点:")
	for _, s := range suspects {
		fmt.Printf("  %s  证据=%d\n", s.Node.String(), s.Count)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("secchord %s\n", secchord.Version)
	if secchord.GitCommit != "" {
		fmt.Printf("  commit: %s\n", secchord.GitCommit)
	}
	if secchord.BuildDate != "" {
		fmt.Printf("  built:  %s\n", secchord.BuildDate)
	}
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("secchord - 抗伪造的 Chord 安全路由")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  secchord -mode sim [-nodes 64 -malicious 4 -crashed 2 -lookups 200]")
	fmt.Println("  secchord -mode serve -self <id> -peers id@host:port,...")
	fmt.Println("  secchord -mode lookup -self <id> -peers id@host:port,... -key <key>")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  SECCHORD_LOG_LEVEL   日志级别（子系统=级别,默认级别）")
	fmt.Println("  SECCHORD_LOG_FORMAT  日志格式（text/json）")
}
