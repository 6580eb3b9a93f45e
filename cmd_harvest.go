package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hibot-harvest/internal/config"
	"hibot-harvest/internal/export"
	"hibot-harvest/internal/fetch"
	"hibot-harvest/internal/harvest"
	"hibot-harvest/internal/hibot"
	"hibot-harvest/internal/logx"
	"hibot-harvest/internal/store"
)

type harvestFlags struct {
	from, to    string
	out         string
	pageSize    int
	concurrency int
	batch       int
	startPage   int
	dedupeKey   string
}

func newHarvestCmd(load loader) *cobra.Command {
	var f harvestFlags
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Fetch every conversation in a date range and write the CSV export",
		Long: `Pages through reportauditory/search with a pool of workers and appends the
flattened rows to the output CSV. Flags override settings.yaml.

--from/--to accept "YYYY-MM-DD HH:MM:SS", "YYYY-MM-DD" or RFC 3339; naive times are UTC.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, dir, err := load()
			if err != nil {
				return err
			}
			applyHarvestFlags(cmd, cfg, f)
			return runHarvest(cmd.Context(), cmd, cfg, dir, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.from, "from", "", "start of the date range (inclusive)")
	fl.StringVar(&f.to, "to", "", "end of the date range (inclusive)")
	fl.StringVarP(&f.out, "out", "o", "", "output CSV path (default OUTPUT from settings)")
	fl.IntVar(&f.pageSize, "page-size", 0, "records per page")
	fl.IntVarP(&f.concurrency, "concurrency", "c", 0, "number of workers")
	fl.IntVar(&f.batch, "batch", 0, "flush buffered rows every N completed pages")
	fl.IntVar(&f.startPage, "start-page", 0, "first page index")
	fl.StringVar(&f.dedupeKey, "dedupe-key", "", `column used to drop duplicate rows after the harvest ("-" disables)`)
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// applyHarvestFlags 仅覆盖显式设置过的参数。
func applyHarvestFlags(cmd *cobra.Command, cfg *config.Config, f harvestFlags) {
	fl := cmd.Flags()
	if fl.Changed("out") {
		cfg.Output = f.out
	}
	if fl.Changed("page-size") && f.pageSize > 0 {
		cfg.Harvest.PageSize = f.pageSize
	}
	if fl.Changed("concurrency") && f.concurrency > 0 {
		cfg.Harvest.Concurrency = f.concurrency
	}
	if fl.Changed("batch") && f.batch > 0 {
		cfg.Harvest.BatchEvery = f.batch
	}
	if fl.Changed("start-page") {
		cfg.Harvest.StartPage = f.startPage
	}
	if fl.Changed("dedupe-key") {
		cfg.DedupeKey = f.dedupeKey
	}
}

func runHarvest(parent context.Context, cmd *cobra.Command, cfg *config.Config, dir string, f harvestFlags) error {
	start, err := hibot.ParseTimestamp(f.from)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	end, err := hibot.ParseTimestamp(f.to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	if cfg.Harvest.StartPage < 0 {
		return errors.New("--start-page must be >= 0")
	}

	// 1) 连接参数：任何 worker 启动前校验
	conn, err := cfg.ResolveConnection(dir, time.Time{})
	if err != nil {
		return err
	}

	// 2) HTTP 客户端
	cl, err := fetch.New(fetch.Options{
		ProxyHTTP:   cfg.Proxy.HTTP,
		ProxyHTTPS:  cfg.Proxy.HTTPS,
		MaxConns:    2 * cfg.Harvest.Concurrency,
		MaxAttempts: cfg.Harvest.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("http client: %w", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3) 台账：极简模式不打开数据库
	p := harvest.Params{
		Start:       start,
		End:         end,
		Output:      cfg.Output,
		PageSize:    cfg.Harvest.PageSize,
		Concurrency: cfg.Harvest.Concurrency,
		BatchSize:   cfg.Harvest.BatchEvery,
		StartPage:   cfg.Harvest.StartPage,
		TimeUnit:    cfg.Harvest.TimeUnit,
	}
	if !cfg.SimpleMode {
		st, err := store.OpenSQLite(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer st.Close()
		if cfg.ResetOnStart {
			if err := st.Reset(ctx); err != nil {
				logx.Warnf("启动清理台账失败：%v", err)
			} else {
				logx.Infof("已清理台账（runs/pages）")
			}
		}
		if err := st.CleanOldRuns(ctx, cfg.KeepRunsDays); err != nil {
			logx.Warnf("清理过期台账失败：%v", err)
		}
		p.Ledger = st
	}

	// 4) 采集
	logx.Infof("时间范围 %s ~ %s，输出 %s", hibot.FormatISOZ(start), hibot.FormatISOZ(end), cfg.Output)
	sum, err := harvest.ToCSV(ctx, cl, conn, p)
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}

	// 5) 按业务键去重
	if cfg.DedupeEnabled() {
		kept, dropped, err := export.Dedupe(cfg.Output, cfg.DedupeKey)
		if err != nil {
			return fmt.Errorf("dedupe: %w", err)
		}
		logx.Infof("按 %s 去重：保留 %d 行，丢弃 %d 行", cfg.DedupeKey, kept, dropped)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d pages, %d rows -> %s\n",
		sum.RunID, sum.PagesFetched, sum.RowsWritten, cfg.Output)
	return nil
}
