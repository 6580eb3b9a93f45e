// 包 harvest 负责主流程编排：
// - 多个 worker 共享页游标并发抓取
// - 根据分页元数据收敛结束页
// - 行缓冲按批次刷入 CSV，结束后做最后一次刷写
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hibot-harvest/internal/flatten"
	"hibot-harvest/internal/hibot"
	"hibot-harvest/internal/logx"
	"hibot-harvest/internal/model"
)

// Fetcher 抓取单页。
type Fetcher interface {
	FetchPage(ctx context.Context, req model.PageRequest) (model.PageResult, error)
}

// Sink 接收扁平行，需自行保证并发安全。
type Sink interface {
	Append(rows []model.FlatRow) error
}

// Ledger 为可选的运行台账。
type Ledger interface {
	StartRun(ctx context.Context, r model.Run) error
	RecordPage(ctx context.Context, p model.PageLog) error
	FinishRun(ctx context.Context, sum model.RunSummary, runErr error) error
}

// MoreFunc 根据一页的元数据与条数判断之后是否还有页。
type MoreFunc func(meta model.Pagination, page, size, got int) bool

// Options 为一次采集的参数。
type Options struct {
	PageSize    int
	Concurrency int
	BatchSize   int // 每完成多少页刷写一次
	StartPage   int
	Start       time.Time
	End         time.Time
	TimeUnit    string
	More        MoreFunc // 为空时使用 hibot.HasMore
	Ledger      Ledger   // 为空时不记录台账
	RunID       string   // 为空时自动生成
}

// Runner 并发分页采集器。
type Runner struct {
	fetch Fetcher
	sink  Sink
	opts  Options
}

// New 创建 Runner，并为未设置的选项填充默认值。
func New(f Fetcher, s Sink, opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.More == nil {
		opts.More = hibot.HasMore
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Runner{fetch: f, sink: s, opts: opts}
}

// RunID 返回本次运行的标识。
func (r *Runner) RunID() string { return r.opts.RunID }

// Run 执行一次完整采集。任一 worker 出现不可重试错误时取消其余 worker，
// 已缓冲的行仍会刷写，然后返回该错误。
func (r *Runner) Run(ctx context.Context) (model.RunSummary, error) {
	o := r.opts
	sum := model.RunSummary{RunID: o.RunID, StopPage: noStop, Started: time.Now()}
	if o.PageSize <= 0 {
		return sum, errors.New("page size must be > 0")
	}
	if o.StartPage < 0 {
		return sum, errors.New("start page must be >= 0")
	}
	if o.Ledger != nil {
		run := model.Run{
			ID:        o.RunID,
			StartDate: hibot.FormatISOZ(o.Start),
			EndDate:   hibot.FormatISOZ(o.End),
			PageSize:  o.PageSize,
			StartedAt: sum.Started,
		}
		if err := o.Ledger.StartRun(ctx, run); err != nil {
			return sum, fmt.Errorf("ledger: %w", err)
		}
	}

	st := newState(o.StartPage)
	logx.Infof("开始采集：run=%s 每页=%d 并发=%d 批次=%d 起始页=%d", o.RunID, o.PageSize, o.Concurrency, o.BatchSize, o.StartPage)

	g, gctx := errgroup.WithContext(ctx)
	for w := 1; w <= o.Concurrency; w++ {
		w := w
		g.Go(func() error { return r.work(gctx, w, st) })
	}
	runErr := g.Wait()

	// 最后一次刷写，出错时同样执行
	st.mu.Lock()
	r.flush(st)
	sum.PagesFetched = st.fetched
	sum.PagesWithData = st.withData
	sum.RowsWritten = st.flushed
	flushErr := st.flushErr
	st.mu.Unlock()
	sum.StopPage = st.stopPage()
	sum.Finished = time.Now()

	if runErr == nil && flushErr != nil {
		runErr = flushErr
	}
	if o.Ledger != nil {
		if err := o.Ledger.FinishRun(context.WithoutCancel(ctx), sum, runErr); err != nil {
			logx.Warnf("写入运行台账失败：%v", err)
		}
	}
	if runErr != nil {
		logx.Errorf("采集中止：已抓取 %d 页，写入 %d 行：%v", sum.PagesFetched, sum.RowsWritten, runErr)
		return sum, runErr
	}
	logx.Infof("采集完成：抓取 %d 页（有数据 %d），写入 %d 行，结束页=%d",
		sum.PagesFetched, sum.PagesWithData, sum.RowsWritten, sum.StopPage)
	return sum, nil
}

// work 为单个 worker 的循环：领取页→锁外抓取→锁内合并结果。
func (r *Runner) work(ctx context.Context, id int, st *state) error {
	o := r.opts
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		st.mu.Lock()
		page, ok := st.claim()
		st.mu.Unlock()
		if !ok {
			return nil
		}

		res, err := r.fetch.FetchPage(ctx, model.PageRequest{
			Page:     page,
			Size:     o.PageSize,
			Start:    o.Start,
			End:      o.End,
			TimeUnit: o.TimeUnit,
		})
		if err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		got := len(res.Items)
		logx.Infof("[w%d] page %d: %d items", id, page, got)

		if o.Ledger != nil {
			if err := o.Ledger.RecordPage(ctx, model.PageLog{RunID: o.RunID, Page: page, Items: got, Worker: id, FetchedAt: time.Now()}); err != nil {
				return fmt.Errorf("worker %d: ledger: %w", id, err)
			}
		}
		rows := flatten.Rows(res.Items)
		more := o.More(res.Meta, page, o.PageSize, got)

		st.mu.Lock()
		st.fetched++
		if got > 0 {
			st.withData++
		}
		// 空页同样视为结束页
		if got == 0 || !more {
			st.markStop(page)
		}
		st.buf = append(st.buf, rows...)
		st.pagesDone++
		if st.pagesDone%o.BatchSize == 0 || st.pastStop(page) {
			r.flush(st)
		}
		err = st.flushErr
		st.mu.Unlock()
		if err != nil {
			return fmt.Errorf("worker %d: flush: %w", id, err)
		}
	}
}

// flush 将缓冲行交给 Sink。调用方持有锁；失败时行放回缓冲区。
func (r *Runner) flush(st *state) {
	if len(st.buf) == 0 && st.flushRuns > 0 {
		return
	}
	rows := st.take()
	if err := r.sink.Append(rows); err != nil {
		st.buf = append(rows, st.buf...)
		if st.flushErr == nil {
			st.flushErr = err
		}
		return
	}
	st.flushRuns++
	st.flushed += len(rows)
	if len(rows) > 0 {
		logx.Debugf("已刷写 %d 行（累计 %d）", len(rows), st.flushed)
	}
}
