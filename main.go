package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/config"
	"github.com/any-hub/any-registry/internal/logging"
	"github.com/any-hub/any-registry/internal/plugin"
	"github.com/any-hub/any-registry/internal/server"
	"github.com/any-hub/any-registry/internal/version"
)

const shutdownTimeout = 10 * time.Second

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
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
		if err := checkPlugins(cfg, plugin.Default()); err != nil {
			fmt.Fprintf(stdErr, "插件声明无效: %v\n", err)
			return 1
		}
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["filters"] = config.PluginNames(cfg.Filters)
		fields["middlewares"] = config.PluginNames(cfg.Middlewares)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		fmt.Fprintf(stdErr, "服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// serve 完成启动流程后阻塞监听，收到信号时优雅退出。
func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	boot, err := server.NewBootstrapper(server.Options{Logger: logger})
	if err != nil {
		return err
	}
	srv, err := boot.Run(ctx, cfg)
	if err != nil {
		return err
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- srv.Listen()
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("收到退出信号，开始关闭")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// checkPlugins 只检查插件名是否已注册，不执行构造。
func checkPlugins(cfg *config.Config, reg *plugin.Registry) error {
	var errs []error
	check := func(category string, specs []config.PluginSpec) {
		for i, spec := range specs {
			if _, ok := reg.Resolve(spec.Name); !ok {
				errs = append(errs, &plugin.ConfigurationError{
					Category: category,
					Plugin:   spec.Name,
					Index:    i,
					Reason:   "plugin not registered",
				})
			}
		}
	}
	check(plugin.CategoryFilters, cfg.Filters)
	check(plugin.CategoryMiddlewares, cfg.Middlewares)
	return errors.Join(errs...)
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("any-registry", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ANY_REGISTRY_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置与插件声明后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ANY_REGISTRY_CONFIG")
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
	}, nil
}
