package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type postmanVar struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	Enabled *bool           `json:"enabled"`
}

// LoadEnvironmentValues 读取 Postman 环境导出文件的 values[]。
// 被禁用（enabled=false）的变量忽略。
func LoadEnvironmentValues(path string) (map[string]string, error) {
	var doc struct {
		Values []postmanVar `json:"values"`
	}
	if err := readJSON(path, &doc); err != nil {
		return nil, err
	}
	return collect(doc.Values), nil
}

// LoadCollectionVariables 读取 Postman 集合导出文件的 variable[]。
func LoadCollectionVariables(path string) (map[string]string, error) {
	var doc struct {
		Variable []postmanVar `json:"variable"`
	}
	if err := readJSON(path, &doc); err != nil {
		return nil, err
	}
	return collect(doc.Variable), nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read postman export %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse postman export %s: %w", path, err)
	}
	return nil
}

func collect(vars []postmanVar) map[string]string {
	out := make(map[string]string, len(vars))
	for _, v := range vars {
		if v.Key == "" || (v.Enabled != nil && !*v.Enabled) {
			continue
		}
		out[v.Key] = scalar(v.Value)
	}
	return out
}

// scalar 将变量值转为字符串；Postman 偶尔导出数字或布尔。
func scalar(v json.RawMessage) string {
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	return string(v)
}
