package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mirror-hub/mirror-hub/internal/cache"
	"github.com/mirror-hub/mirror-hub/internal/config"
	"github.com/mirror-hub/mirror-hub/internal/fetch"
	"github.com/mirror-hub/mirror-hub/internal/logging"
	"github.com/mirror-hub/mirror-hub/internal/maintenance"
	"github.com/mirror-hub/mirror-hub/internal/mirror"
	"github.com/mirror-hub/mirror-hub/internal/prefetch"
	"github.com/mirror-hub/mirror-hub/internal/proxy"
	"github.com/mirror-hub/mirror-hub/internal/retention"
	"github.com/mirror-hub/mirror-hub/internal/server"
	"github.com/mirror-hub/mirror-hub/internal/server/routes"
	"github.com/mirror-hub/mirror-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	maintenance bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["repos"] = len(cfg.Repos)
		fields["auth_mode"] = cfg.Global.AuthMode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if opts.maintenance {
		return runMaintenance(cfg, logger)
	}

	registry, err := server.NewRepoRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建仓库注册表失败: %v\n", err)
		return 1
	}

	// 启动遵循“配置 → 注册表 → 磁盘缓存 → 镜像选择器 → 取包引擎 → Fiber server”
	// 顺序，所有请求与后台任务共享同一份缓存与镜像排名。
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	var auth *server.Authenticator
	if cfg.Global.AuthEnabled() {
		auth, err = server.LoadHtpasswd(cfg.Global.HtpasswdPath)
		if err != nil {
			fmt.Fprintf(stdErr, "加载 htpasswd 失败: %v\n", err)
			return 1
		}
	}

	httpClient := server.NewUpstreamClient(cfg)
	selector := mirror.NewSelector(httpClient, logger, mirrorSources(cfg), cfg.Global.ProbeTimeout.DurationValue())
	engine := fetch.NewEngine(httpClient, logger, store, selector, cfg.Global.DownloadTimeout.DurationValue())
	proxyHandler := proxy.NewHandler(engine, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startBackgroundTasks(ctx, cfg, logger, store, selector, engine)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["repos"] = len(cfg.Repos)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["auth_mode"] = cfg.Global.AuthMode()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, registry, proxyHandler, auth, selector, store, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// runMaintenance 执行一轮空闲感知维护后退出。
// 正常完成（已重启或推迟重启）返回 0，自更新失败返回非零。
func runMaintenance(cfg *config.Config, logger *logrus.Logger) int {
	loop := maintenance.NewLoop(cfg.Maintenance, logger, nil, nil)
	outcome, err := loop.RunOnce(context.Background())
	if err != nil {
		fmt.Fprintf(stdErr, "维护循环失败: %v\n", err)
		return 1
	}
	logger.WithFields(logrus.Fields{
		"action":  "maintenance",
		"outcome": string(outcome),
	}).Info("维护循环结束")
	return 0
}

// startBackgroundTasks 启动镜像排名、淘汰与预取三个后台任务。
// 任务各自按周期运行，失败只记日志，不影响服务进程。
func startBackgroundTasks(
	ctx context.Context,
	cfg *config.Config,
	logger *logrus.Logger,
	store cache.Store,
	selector *mirror.Selector,
	engine *fetch.Engine,
) {
	go selector.Run(ctx, cfg.Global.RankInterval.DurationValue())

	policy := retention.NewPolicy(store, logger, retentionRules(cfg), cfg.Global.PurgeFilesAfter.DurationValue())
	go policy.Run(ctx, cfg.Global.EvictInterval.DurationValue())

	repoNames := make([]string, 0, len(cfg.Repos))
	for _, repo := range cfg.Repos {
		repoNames = append(repoNames, repo.Name)
	}
	ttl := time.Duration(cfg.Prefetch.TTLUnaccessedInDays) * 24 * time.Hour
	scheduler := prefetch.NewScheduler(store, logger, engine, repoNames, ttl)
	go func() {
		if err := scheduler.Run(ctx, cfg.Prefetch.Cron); err != nil && ctx.Err() == nil {
			logger.WithFields(logrus.Fields{
				"action": "prefetch",
				"error":  err.Error(),
			}).Error("预取调度器退出")
		}
	}()
}

// mirrorSources 把 Repo 配置转换为镜像选择器的探测源。
func mirrorSources(cfg *config.Config) []mirror.Source {
	sources := make([]mirror.Source, 0, len(cfg.Repos))
	for _, repo := range cfg.Repos {
		sources = append(sources, mirror.Source{
			Name:           repo.Name,
			URLs:           repo.URLs,
			MirrorlistPath: repo.Mirrorlist,
		})
	}
	return sources
}

// retentionRules 计算每个仓库生效的版本保留数。
func retentionRules(cfg *config.Config) []retention.RepoRule {
	rules := make([]retention.RepoRule, 0, len(cfg.Repos))
	for _, repo := range cfg.Repos {
		rules = append(rules, retention.RepoRule{
			Name:         repo.Name,
			KeepVersions: cfg.EffectiveKeepVersions(repo),
		})
	}
	return rules
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("mirror-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag  string
		checkOnly   bool
		showVer     bool
		maintenance bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 MIRROR_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&maintenance, "maintenance", false, "执行一轮空闲感知维护后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("MIRROR_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		maintenance: maintenance,
	}, nil
}

func startHTTPServer(
	cfg *config.Config,
	registry *server.RepoRegistry,
	proxyHandler server.ProxyHandler,
	auth *server.Authenticator,
	selector *mirror.Selector,
	store cache.Store,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxyHandler,
		Auth:       auth,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterRepoRoutes(app, registry, selector, store)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
