// 包 hibot 实现 HiBot 报表接口的分页抓取：
// - FetchPage：构造 reportauditory/search 请求并交给重试客户端
// - Decode：按固定优先级解析响应结构
// - HasMore：根据分页元数据判断是否还有下一页
package hibot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"hibot-harvest/internal/fetch"
	"hibot-harvest/internal/logx"
	"hibot-harvest/internal/model"
)

// searchPath 为会话审计报表的查询端点（相对 reports 路径）。
const searchPath = "reportauditory/search"

// DefaultTimeUnit 为请求体中的默认时间单位。
const DefaultTimeUnit = "seconds"

// Connection 为连接与鉴权参数。
type Connection struct {
	BaseURL     string `validate:"required,url"`
	ReportsPath string `validate:"required"`
	Token       string `validate:"required"`
	TenantID    string `validate:"required"`
	ZoneID      string `validate:"required"`
}

// Client 为分页抓取器。
type Client struct {
	http *fetch.Client
	conn Connection
}

// NewClient 创建分页抓取器。
func NewClient(cl *fetch.Client, conn Connection) *Client {
	return &Client{http: cl, conn: conn}
}

// SearchURL 返回查询端点完整地址。
func (c *Client) SearchURL() string {
	return fetch.JoinURL(c.conn.BaseURL, fetch.JoinURL(c.conn.ReportsPath, searchPath))
}

type dateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type searchBody struct {
	DateRange     dateRange `json:"dateRange"`
	TimeUnit      string    `json:"timeUnit"`
	Page          int       `json:"page"`
	Size          int       `json:"size"`
	Sort          string    `json:"sort"`
	Filters       []any     `json:"filters"`
	DynamicFields []any     `json:"dynamicFields"`
}

// FetchPage 抓取一页并解析出条目与分页元数据；响应结构无法识别时视为 0 条。
func (c *Client) FetchPage(ctx context.Context, req model.PageRequest) (model.PageResult, error) {
	unit := req.TimeUnit
	if unit == "" {
		unit = DefaultTimeUnit
	}
	body := searchBody{
		DateRange:     dateRange{StartDate: FormatISOZ(req.Start), EndDate: FormatISOZ(req.End)},
		TimeUnit:      unit,
		Page:          req.Page,
		Size:          req.Size,
		Sort:          req.Sort,
		Filters:       []any{},
		DynamicFields: []any{},
	}
	raw, err := c.http.DoJSON(ctx, fetch.Request{
		Method: http.MethodPost,
		URL:    c.SearchURL(),
		Header: map[string]string{
			"Authorization": "Bearer " + c.conn.Token,
			"Accept":        "application/json",
			"Content-Type":  "application/json",
			"zoneid":        c.conn.ZoneID,
			"tenant":        c.conn.TenantID,
		},
		Query: url.Values{
			"tenant": {c.conn.TenantID},
			"page":   {strconv.Itoa(req.Page)},
			"size":   {strconv.Itoa(req.Size)},
		},
		Body: body,
		Page: req.Page,
	})
	if err != nil {
		return model.PageResult{}, fmt.Errorf("fetch page %d: %w", req.Page, err)
	}
	items, meta, shape, err := Decode(raw)
	if err != nil {
		logx.Warnf("页 %d 响应解析失败，按 0 条处理：%v", req.Page, err)
		items, shape = nil, model.ShapeNone
	}
	if shape == model.ShapeNone {
		logx.Warnf("页 %d 未识别到条目列表", req.Page)
	}
	return model.PageResult{Page: req.Page, Items: items, Meta: meta, Shape: shape, Raw: raw}, nil
}
