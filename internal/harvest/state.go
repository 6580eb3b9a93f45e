package harvest

import (
	"sync"

	"hibot-harvest/internal/model"
)

// noStop 表示尚未发现结束页。
const noStop = -1

// state 为所有 worker 共享的采集状态，全部字段只在 mu 内读写。
type state struct {
	mu sync.Mutex

	next      int // 下一个待领取的页号，单调递增
	stop      int // 发现的结束页：只会写入更小的值
	buf       []model.FlatRow
	pagesDone int

	fetched   int
	withData  int
	flushed   int
	flushErr  error
	flushRuns int
}

func newState(startPage int) *state {
	return &state{next: startPage, stop: noStop}
}

// claim 领取下一页；结束页已知且游标越过它时返回 false。
// 调用方持有锁。
func (s *state) claim() (int, bool) {
	if s.stop != noStop && s.next > s.stop {
		return 0, false
	}
	p := s.next
	s.next++
	return p, true
}

// markStop 记录结束页，保留已知的最小值。调用方持有锁。
func (s *state) markStop(page int) {
	if s.stop == noStop || page < s.stop {
		s.stop = page
	}
}

// pastStop 报告 page 是否位于已知结束页或其后。调用方持有锁。
func (s *state) pastStop(page int) bool {
	return s.stop != noStop && page >= s.stop
}

// take 取走缓冲区中的行。调用方持有锁。
func (s *state) take() []model.FlatRow {
	rows := s.buf
	s.buf = nil
	return rows
}

func (s *state) stopPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop
}
