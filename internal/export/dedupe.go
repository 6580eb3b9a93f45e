package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Dedupe 按 key 列整理已写好的 CSV：丢弃 key 为空的行，同 key 只保留第一行。
// 通过临时文件 + rename 原子替换。
func Dedupe(path, key string) (kept, dropped int, err error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("read header: %w", err)
	}
	idx := -1
	for i, c := range header {
		if c == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, 0, fmt.Errorf("column %q not found in %s", key, path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".dedupe-*.csv")
	if err != nil {
		return 0, 0, fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return 0, 0, fmt.Errorf("write header: %w", err)
	}
	seen := make(map[string]struct{})
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			tmp.Close()
			return 0, 0, fmt.Errorf("read %s: %w", path, err)
		}
		v := ""
		if idx < len(rec) {
			v = rec[idx]
		}
		if _, dup := seen[v]; v == "" || dup {
			dropped++
			continue
		}
		seen[v] = struct{}{}
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return 0, 0, fmt.Errorf("write row: %w", err)
		}
		kept++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return 0, 0, fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return 0, 0, fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, 0, fmt.Errorf("close temp: %w", err)
	}
	in.Close()
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, 0, fmt.Errorf("replace %s: %w", path, err)
	}
	return kept, dropped, nil
}
