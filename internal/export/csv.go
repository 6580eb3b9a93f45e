// 包 export 负责落盘：增量追加 CSV（表头只写一次）与采集后的去重整理。
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hibot-harvest/internal/model"
)

// CSVSink 以固定列顺序向同一文件多次追加行。
type CSVSink struct {
	mu          sync.Mutex
	path        string
	columns     []string
	wroteHeader bool
	rows        int
}

// NewCSVSink 创建追加器：
// - reset 为 true 时删除旧文件（每次采集从空文件开始）
// - 否则已有非空文件视为表头已写
func NewCSVSink(path string, columns []string, reset bool) (*CSVSink, error) {
	if path == "" {
		return nil, errors.New("csv path required")
	}
	if len(columns) == 0 {
		return nil, errors.New("csv columns required")
	}
	s := &CSVSink{path: path, columns: append([]string(nil), columns...)}
	if reset {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reset %s: %w", path, err)
		}
		return s, nil
	}
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		s.wroteHeader = true
	}
	return s, nil
}

// Path 返回目标文件路径。
func (s *CSVSink) Path() string { return s.path }

// Rows 返回本追加器累计写入的数据行数。
func (s *CSVSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Append 追加一批行；首次调用先写表头。空批次只在表头未写时写表头。
func (s *CSVSink) Append(rows []model.FlatRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(rows) == 0 && s.wroteHeader {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	bufw := bufio.NewWriterSize(f, 1<<20)
	w := csv.NewWriter(bufw)
	if !s.wroteHeader {
		if err := w.Write(s.columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	rec := make([]string, len(s.columns))
	for _, r := range rows {
		for i, c := range s.columns {
			rec[i] = r[c]
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := bufw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", s.path, err)
	}
	s.wroteHeader = true
	s.rows += len(rows)
	return nil
}
