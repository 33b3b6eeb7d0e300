package main

import (
	"github.com/spf13/cobra"

	"cdpblock/internal/config"
	"cdpblock/internal/logger"
	"cdpblock/internal/service"
	"cdpblock/internal/storage"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cdpblock",
		Short:         "Block matching browser requests while handlers re-authenticate, then replay them in order",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug/info/warn/error)")

	cmd.AddCommand(newTargetsCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newJournalCommand(opts))
	return cmd
}

// load 读取配置并按命令行覆盖
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logger.Logger {
	return logger.New(logger.Options{Level: cfg.Log.Level, Writers: cfg.Log.Writer, File: cfg.Log.File})
}

// newService 按配置创建服务，sqlite 配置存在时挂载事件日志库
func newService(cfg *config.Config, l logger.Logger) (*service.Service, error) {
	opts := []service.Option{service.WithLoopCapacity(cfg.Interception.LoopCapacity)}
	if cfg.Sqlite.Dsn != "" {
		j, err := storage.OpenJournal(storage.JournalOptions{DSN: cfg.Sqlite.Dsn, Prefix: cfg.Sqlite.Prefix, Logger: l})
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithJournal(j))
	}
	return service.New(l, opts...), nil
}
