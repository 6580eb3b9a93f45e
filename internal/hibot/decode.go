package hibot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"hibot-harvest/internal/model"
)

// Decode 按固定优先级从响应体中取出条目列表与分页元数据：
// 裸数组 → content 数组 → items 数组 → 文档顺序中第一个数组字段 → 无（0 条，非错误）。
func Decode(raw json.RawMessage) ([]json.RawMessage, model.Pagination, model.Shape, error) {
	var meta model.Pagination
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		return nil, meta, model.ShapeNone, nil
	}
	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, meta, model.ShapeNone, fmt.Errorf("decode list: %w", err)
		}
		return items, meta, model.ShapeList, nil
	case '{':
	default:
		return nil, meta, model.ShapeNone, nil
	}

	fields, err := orderedFields(body)
	if err != nil {
		return nil, meta, model.ShapeNone, err
	}
	byKey := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		if _, dup := byKey[f.key]; !dup {
			byKey[f.key] = f.value
		}
	}
	meta = pagination(byKey)

	for _, c := range []struct {
		key   string
		shape model.Shape
	}{{"content", model.ShapeContent}, {"items", model.ShapeItems}} {
		if v, ok := byKey[c.key]; ok && isArray(v) {
			items, err := decodeArray(v)
			return items, meta, c.shape, err
		}
	}
	for _, f := range fields {
		if isArray(f.value) {
			items, err := decodeArray(f.value)
			return items, meta, model.ShapeFirstList, err
		}
	}
	return nil, meta, model.ShapeNone, nil
}

type field struct {
	key   string
	value json.RawMessage
}

// orderedFields 按文档顺序读取顶层对象字段（map 会丢失顺序）。
func orderedFields(body []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	var out []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode key: unexpected %v", tok)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode field %q: %w", key, err)
		}
		out = append(out, field{key: key, value: v})
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode object end: %w", err)
	}
	return out, nil
}

// pagination 仅接受类型正确的元数据：last 为布尔，totalPages/number 为整数。
func pagination(m map[string]json.RawMessage) model.Pagination {
	var p model.Pagination
	if v, ok := m["last"]; ok {
		var b bool
		if json.Unmarshal(v, &b) == nil {
			p.Last = &b
		}
	}
	if v, ok := intField(m, "totalPages"); ok {
		p.TotalPages = &v
	}
	if v, ok := intField(m, "number"); ok {
		p.Number = &v
	}
	return p
}

func intField(m map[string]json.RawMessage, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(v)))
	if err != nil {
		return 0, false
	}
	return n, true
}

func isArray(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '['
}

func decodeArray(v json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}
