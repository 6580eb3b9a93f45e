// 包 model 定义采集流程共享的数据模型（分页请求/分页结果/扁平行/运行记录）。
package model

import (
	"encoding/json"
	"time"
)

// PageRequest 描述单页请求，创建后不再修改。
type PageRequest struct {
	Page     int
	Size     int
	Start    time.Time
	End      time.Time
	TimeUnit string
	Sort     string
}

// Shape 标记条目列表是从哪种响应结构中取出的。
type Shape int

const (
	ShapeNone Shape = iota
	ShapeList
	ShapeContent
	ShapeItems
	ShapeFirstList
)

func (s Shape) String() string {
	switch s {
	case ShapeList:
		return "list"
	case ShapeContent:
		return "content"
	case ShapeItems:
		return "items"
	case ShapeFirstList:
		return "first-list"
	default:
		return "none"
	}
}

// Pagination 为响应中的分页元数据；字段为 nil 表示服务端未提供。
type Pagination struct {
	Last       *bool
	TotalPages *int
	Number     *int
}

// Record 为一条原始会话记录，嵌套值保持原始 JSON（保留键顺序）。
type Record map[string]json.RawMessage

// PageResult 为单页抓取结果。
type PageResult struct {
	Page  int
	Items []json.RawMessage
	Meta  Pagination
	Shape Shape
	Raw   json.RawMessage
}

// FlatRow 为扁平化后的一行：键集合恒等于目标列集合。
type FlatRow map[string]string

// RunSummary 为一次采集的统计。
type RunSummary struct {
	RunID         string    `json:"run_id"`
	PagesFetched  int       `json:"pages_fetched"`
	PagesWithData int       `json:"pages_with_data"`
	RowsWritten   int       `json:"rows_written"`
	StopPage      int       `json:"stop_page"`
	Started       time.Time `json:"started"`
	Finished      time.Time `json:"finished"`
}

// Run 为台账中的一次运行记录。
type Run struct {
	ID         string
	StartDate  string
	EndDate    string
	PageSize   int
	StopPage   int
	Pages      int
	Rows       int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// PageLog 为台账中的单页抓取记录。
type PageLog struct {
	RunID     string
	Page      int
	Items     int
	Worker    int
	FetchedAt time.Time
}

// LedgerStats 为台账汇总。
type LedgerStats struct {
	RunsTotal  int       `json:"runs_total"`
	RunsFailed int       `json:"runs_failed"`
	PagesTotal int       `json:"pages_total"`
	RowsTotal  int       `json:"rows_total"`
	UpdatedAt  time.Time `json:"updated_at"`
}
