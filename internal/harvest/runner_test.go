package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hibot-harvest/internal/fetch"
	"hibot-harvest/internal/model"
)

// fakeFetcher 模拟 total 条记录的分页接口。
type fakeFetcher struct {
	total     int
	lastOn    int  // >=0 时该页返回 last=true
	failOn    int  // >=0 时该页返回 401
	claimMore bool // 每页都返回 last=false

	mu   sync.Mutex
	hits map[int]int
}

func newFake(total int) *fakeFetcher {
	return &fakeFetcher{total: total, lastOn: -1, failOn: -1, hits: map[int]int{}}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, req model.PageRequest) (model.PageResult, error) {
	f.mu.Lock()
	f.hits[req.Page]++
	f.mu.Unlock()
	if req.Page == f.failOn {
		return model.PageResult{}, &fetch.StatusError{Code: 401, URL: "fake"}
	}
	var items []json.RawMessage
	for i := req.Page * req.Size; i < (req.Page+1)*req.Size && i < f.total; i++ {
		items = append(items, json.RawMessage(fmt.Sprintf(`{"id":"r%d","contacts":[{"contactId":%d}]}`, i, i)))
	}
	res := model.PageResult{Page: req.Page, Items: items, Shape: model.ShapeContent}
	switch {
	case req.Page == f.lastOn:
		last := true
		res.Meta.Last = &last
	case f.claimMore:
		last := false
		res.Meta.Last = &last
	}
	return res, nil
}

func (f *fakeFetcher) pages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.hits))
	for p := range f.hits {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (f *fakeFetcher) duplicates() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for p, n := range f.hits {
		if n > 1 {
			out = append(out, p)
		}
	}
	return out
}

type memSink struct {
	mu      sync.Mutex
	batches []int
	rows    []model.FlatRow
	fail    error
}

func (s *memSink) Append(rows []model.FlatRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.batches = append(s.batches, len(rows))
	s.rows = append(s.rows, rows...)
	return nil
}

type memLedger struct {
	mu       sync.Mutex
	started  string
	pages    map[int]int
	finished *model.RunSummary
	runErr   error
}

func (l *memLedger) StartRun(_ context.Context, r model.Run) error {
	l.started = r.ID
	l.pages = map[int]int{}
	return nil
}

func (l *memLedger) RecordPage(_ context.Context, p model.PageLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.pages[p.Page]; dup {
		return fmt.Errorf("page %d recorded twice", p.Page)
	}
	l.pages[p.Page] = p.Items
	return nil
}

func (l *memLedger) FinishRun(_ context.Context, sum model.RunSummary, runErr error) error {
	l.finished = &sum
	l.runErr = runErr
	return nil
}

func TestState_StopConvergesToMinimum(t *testing.T) {
	st := newState(0)
	for _, p := range []int{5, 7, 6} {
		st.markStop(p)
	}
	assert.Equal(t, 5, st.stop)

	st.next = 5
	p, ok := st.claim()
	require.True(t, ok)
	assert.Equal(t, 5, p)
	_, ok = st.claim()
	assert.False(t, ok, "claim past stop")

	assert.True(t, st.pastStop(5))
	assert.True(t, st.pastStop(9))
	assert.False(t, st.pastStop(4))
}

func TestRun_ExactPagesSequential(t *testing.T) {
	// 3 页满页 + 1 页 4 条
	f := newFake(34)
	sink := &memSink{}
	sum, err := New(f, sink, Options{PageSize: 10, Concurrency: 1, BatchSize: 5}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, f.pages())
	assert.Equal(t, 4, sum.PagesFetched)
	assert.Equal(t, 4, sum.PagesWithData)
	assert.Equal(t, 34, sum.RowsWritten)
	assert.Equal(t, 3, sum.StopPage)
	assert.Len(t, sink.rows, 34)
}

func TestRun_ConcurrentNoDuplicatesNoGaps(t *testing.T) {
	for _, n := range []int{1, 2, 8, 32} {
		t.Run(fmt.Sprintf("workers=%d", n), func(t *testing.T) {
			f := newFake(123)
			sink := &memSink{}
			sum, err := New(f, sink, Options{PageSize: 10, Concurrency: n, BatchSize: 3}).Run(context.Background())
			require.NoError(t, err)
			assert.Empty(t, f.duplicates(), "pages fetched twice")

			pages := f.pages()
			seen := map[int]bool{}
			for _, p := range pages {
				seen[p] = true
			}
			for p := 0; p <= 12; p++ {
				assert.True(t, seen[p], "page %d skipped", p)
			}
			assert.Equal(t, 12, sum.StopPage)
			// 越过结束页的只可能是各 worker 已领取的页
			assert.LessOrEqual(t, pages[len(pages)-1], sum.StopPage+n)

			assert.Len(t, sink.rows, 123)
			assert.Equal(t, 123, sum.RowsWritten)
			ids := map[string]bool{}
			for _, r := range sink.rows {
				ids[r["id"]] = true
			}
			assert.Len(t, ids, 123)
		})
	}
}

func TestRun_EmptyPageStopsDespiteMoreFlag(t *testing.T) {
	for _, n := range []int{1, 2, 8} {
		t.Run(fmt.Sprintf("workers=%d", n), func(t *testing.T) {
			// 两页满页，之后全是 last=false 的空页
			f := newFake(20)
			f.claimMore = true
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			sum, err := New(f, &memSink{}, Options{PageSize: 10, Concurrency: n, BatchSize: 2}).Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, sum.StopPage)
			assert.Equal(t, 20, sum.RowsWritten)
			assert.Empty(t, f.duplicates())
			pages := f.pages()
			assert.LessOrEqual(t, pages[len(pages)-1], sum.StopPage+n)
		})
	}
}

func TestRun_LastFlagStopsOnFullPage(t *testing.T) {
	f := newFake(1000)
	f.lastOn = 2
	sum, err := New(f, &memSink{}, Options{PageSize: 10, Concurrency: 1, BatchSize: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, f.pages())
	assert.Equal(t, 30, sum.RowsWritten)
}

func TestRun_CustomStopDetectorAndStartPage(t *testing.T) {
	f := newFake(1000)
	never := func(model.Pagination, int, int, int) bool { return false }
	sum, err := New(f, &memSink{}, Options{PageSize: 10, Concurrency: 1, StartPage: 2, More: never}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2}, f.pages())
	assert.Equal(t, 2, sum.StopPage)
	assert.Equal(t, 10, sum.RowsWritten)
}

func TestRun_FlushCadence(t *testing.T) {
	f := newFake(45)
	sink := &memSink{}
	_, err := New(f, sink, Options{PageSize: 10, Concurrency: 1, BatchSize: 2}).Run(context.Background())
	require.NoError(t, err)
	// 第 2、4 页完成时按批次刷写，第 5 页到达结束页立即刷写
	assert.Equal(t, []int{20, 20, 5}, sink.batches)
}

func TestRun_EmptyHarvestStillFlushesOnce(t *testing.T) {
	f := newFake(0)
	sink := &memSink{}
	sum, err := New(f, sink, Options{PageSize: 50, Concurrency: 4, BatchSize: 5}).Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, sink.batches)
	assert.Equal(t, 0, sink.batches[0])
	assert.Equal(t, 0, sum.RowsWritten)
	assert.Equal(t, 0, sum.StopPage)
	assert.Equal(t, 0, sum.PagesWithData)
}

func TestRun_NonRetryableErrorAbortsAfterFlushing(t *testing.T) {
	f := newFake(1000)
	f.failOn = 3
	sink := &memSink{}
	led := &memLedger{}
	sum, err := New(f, sink, Options{PageSize: 10, Concurrency: 1, BatchSize: 100, Ledger: led, RunID: "run-x"}).Run(context.Background())

	var se *fetch.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 401, se.Code)
	// 批次未满，但 0..2 页的行在返回前已刷写
	assert.Len(t, sink.rows, 30)
	assert.Equal(t, 30, sum.RowsWritten)
	assert.NotContains(t, f.pages(), 4, "page after failure fetched")

	require.NotNil(t, led.finished)
	assert.Equal(t, "run-x", led.finished.RunID)
	assert.Error(t, led.runErr)
}

func TestRun_SinkErrorIsReturned(t *testing.T) {
	boom := errors.New("disk full")
	_, err := New(newFake(20), &memSink{fail: boom}, Options{PageSize: 10, Concurrency: 2, BatchSize: 1}).Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRun_LedgerRecordsEveryPageOnce(t *testing.T) {
	f := newFake(95)
	led := &memLedger{}
	r := New(f, &memSink{}, Options{PageSize: 10, Concurrency: 6, BatchSize: 2, Ledger: led})
	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, r.RunID())
	assert.Equal(t, r.RunID(), led.started)
	assert.Len(t, led.pages, sum.PagesFetched)
	assert.Equal(t, 5, led.pages[9])
	require.NotNil(t, led.finished)
	assert.Equal(t, 95, led.finished.RowsWritten)
	assert.NoError(t, led.runErr)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(newFake(100), &memSink{}, Options{PageSize: 10, Concurrency: 3}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_InvalidOptions(t *testing.T) {
	_, err := New(newFake(1), &memSink{}, Options{}).Run(context.Background())
	assert.Error(t, err, "zero page size")
	_, err = New(newFake(1), &memSink{}, Options{PageSize: 1, StartPage: -1}).Run(context.Background())
	assert.Error(t, err, "negative start page")
}
