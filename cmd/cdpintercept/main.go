package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cdpintercept/internal/config"
	"cdpintercept/internal/logger"
	"cdpintercept/internal/rules"
	"cdpintercept/internal/storage"
	"cdpintercept/pkg/api"
	"cdpintercept/pkg/domain"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	devtools := flag.String("devtools", "", "DevTools 地址，覆盖配置文件")
	target := flag.String("target", "", "要附加的目标 ID，为空时选择第一个页面")
	rulesPath := flag.String("rules", "", "规则文件路径，覆盖配置文件")
	flag.Parse()

	if err := run(*configPath, *devtools, domain.TargetID(*target), *rulesPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, devtools string, target domain.TargetID, rulesPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if devtools != "" {
		cfg.Intercept.DevToolsURL = devtools
	}
	if rulesPath != "" {
		cfg.Intercept.RulesFile = rulesPath
	}

	log := logger.New(cfg.LoggerOptions())

	var audit api.AuditStore
	if cfg.Sqlite.Dsn != "" {
		store, err := storage.Open(storage.Options{Dsn: cfg.Sqlite.Dsn, Prefix: cfg.Sqlite.Prefix}, log)
		if err != nil {
			return err
		}
		defer store.Close()
		audit = store
	}

	svc := api.NewService(audit, log)
	id, err := svc.StartSession(domain.SessionConfig{
		DevToolsURL:       cfg.Intercept.DevToolsURL,
		Concurrency:       cfg.Intercept.Concurrency,
		QueueSize:         cfg.Intercept.QueueSize,
		ProcessTimeoutMS:  cfg.Intercept.ProcessTimeoutMS,
		DispatchTimeoutMS: cfg.Intercept.DispatchTimeoutMS,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.StopSession(id); err != nil {
			log.Err(err, "停止会话失败")
		}
	}()

	if cfg.Intercept.RulesFile != "" {
		rs, err := rules.LoadFile(cfg.Intercept.RulesFile)
		if err != nil {
			return err
		}
		if err := svc.LoadRules(id, rs); err != nil {
			return err
		}
	}
	if err := svc.AttachTarget(id, target); err != nil {
		return err
	}
	if err := svc.EnableInterception(id); err != nil {
		return err
	}

	events, err := svc.SubscribeEvents(id)
	if err != nil {
		return err
	}
	pending, err := svc.SubscribePending(id)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log.Info("拦截运行中，按 Ctrl+C 退出", "sessionID", string(id))

	for {
		select {
		case <-ctx.Done():
			log.Info("收到退出信号")
			if audit != nil {
				if stats, err := svc.ResolutionStats(); err == nil {
					log.Info("审计统计", "byAction", stats)
				}
			}
			return nil
		case item := <-pending:
			// 命令行没有审批入口，挂起的请求在超时后执行规则的默认行为
			log.Warn("请求等待审批", "item", item.ID, "rule", string(item.Rule), "url", item.URL, "deadline", item.Deadline)
		case evt := <-events:
			log.Info("拦截结果",
				"result", evt.Result,
				"url", evt.URL,
				"method", evt.Method,
				"navigation", evt.IsNavigation,
				"traceID", evt.TraceID,
				"error", evt.Error,
			)
		}
	}
}
