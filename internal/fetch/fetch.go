// 包 fetch 封装 HTTP 客户端（代理/超时/连接池/重试），用于请求报表接口。
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hibot-harvest/internal/logx"
)

const (
	// DefaultConnectTimeout 建连超时。
	DefaultConnectTimeout = 5 * time.Second
	// DefaultReadTimeout 等待响应头的超时。
	DefaultReadTimeout = 120 * time.Second
	// MaxBackoff 退避上限（不含抖动）。
	MaxBackoff = 60 * time.Second
	// MaxJitter 抖动上限（开区间）。
	MaxJitter = 500 * time.Millisecond
)

// ErrAttemptsExhausted 在设置了 MaxAttempts 且全部尝试失败时返回。
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// StatusError 为不可重试的 HTTP 状态（除 429 以外的 4xx 等）。
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d %s", e.Code, e.URL)
	}
	return fmt.Sprintf("HTTP %d %s: %s", e.Code, e.URL, e.Body)
}

// Client 为带无限重试（可选上限）的 JSON 客户端。
type Client struct {
	http        *http.Client
	maxAttempts int
	sleep       func(context.Context, time.Duration) error
}

// Options 为客户端构造参数。
type Options struct {
	ProxyHTTP      string
	ProxyHTTPS     string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// MaxConns 单主机最大连接数，0 表示不限制。
	MaxConns int
	// MaxAttempts 最大尝试次数，0 表示无限重试。
	MaxAttempts int
	// Sleep 重试间等待，nil 时使用可被 ctx 取消的定时器。
	Sleep func(context.Context, time.Duration) error
}

// New 创建客户端：代理、建连/读取超时、连接池上限。
func New(opts Options) (*Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must be >= 0, got %d", opts.MaxAttempts)
	}
	var proxyHTTP, proxyHTTPS *url.URL
	var err error
	if opts.ProxyHTTP != "" {
		if proxyHTTP, err = url.Parse(opts.ProxyHTTP); err != nil {
			return nil, fmt.Errorf("parse http proxy: %w", err)
		}
	}
	if opts.ProxyHTTPS != "" {
		if proxyHTTPS, err = url.Parse(opts.ProxyHTTPS); err != nil {
			return nil, fmt.Errorf("parse https proxy: %w", err)
		}
	}
	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			if req.URL.Scheme == "https" && proxyHTTPS != nil {
				return proxyHTTPS, nil
			}
			if req.URL.Scheme == "http" && proxyHTTP != nil {
				return proxyHTTP, nil
			}
			return http.ProxyFromEnvironment(req)
		},
		DialContext:           (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxConnsPerHost:       opts.MaxConns,
		MaxIdleConnsPerHost:   opts.MaxConns,
	}
	cl := &http.Client{
		Transport: transport,
		Timeout:   opts.ConnectTimeout + opts.ReadTimeout,
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Client{http: cl, maxAttempts: opts.MaxAttempts, sleep: sleep}, nil
}

// Request 描述一次 JSON 请求；Page 仅用于日志定位。
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Query  url.Values
	Body   any
	Page   int
}

// Backoff 返回第 attempt 次（从 0 开始）重试前的等待：min(2^attempt 秒, 60 秒) + [0, 0.5 秒) 抖动。
func Backoff(attempt int) time.Duration {
	base := MaxBackoff
	if attempt < 6 {
		base = time.Duration(1<<attempt) * time.Second
	}
	return base + rand.N(MaxJitter)
}

// DoJSON 发送请求并返回 JSON 响应体：
// - 429/5xx 与网络错误（超时/连接失败）按指数退避重试
// - 其余 4xx 立即返回 *StatusError
// - 2xx 校验为合法 JSON 后返回
func (c *Client) DoJSON(ctx context.Context, r Request) (json.RawMessage, error) {
	target, err := buildURL(r.URL, r.Query)
	if err != nil {
		return nil, err
	}
	var payload []byte
	if r.Body != nil {
		if payload, err = json.Marshal(r.Body); err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	for attempt := 0; ; attempt++ {
		logx.Debugf("请求 %s %s 页=%d 第%d次", method, target, r.Page, attempt+1)
		body, retry, err := c.once(ctx, method, target, r.Header, payload)
		if err == nil {
			return body, nil
		}
		if !retry {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.maxAttempts > 0 && attempt+1 >= c.maxAttempts {
			return nil, fmt.Errorf("page %d after %d attempts: %w: %v", r.Page, attempt+1, ErrAttemptsExhausted, err)
		}
		wait := Backoff(attempt)
		logx.Warnf("页 %d 请求失败（第%d次）：%v，%.1fs 后重试", r.Page, attempt+1, err, wait.Seconds())
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// once 执行一次请求；retry 表示错误是否可重试。
func (c *Client) once(ctx context.Context, method, target string, header map[string]string, payload []byte) (json.RawMessage, bool, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, false, fmt.Errorf("new request: %w", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, &StatusError{Code: resp.StatusCode, URL: target, Body: Summarize(b, resp.Header.Get("Content-Type"))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, false, &StatusError{Code: resp.StatusCode, URL: target, Body: Summarize(b, resp.Header.Get("Content-Type"))}
	}
	if !json.Valid(b) {
		return nil, false, fmt.Errorf("decode response %s: invalid json (%s)", target, Summarize(b, resp.Header.Get("Content-Type")))
	}
	return json.RawMessage(b), false, nil
}

func buildURL(raw string, q url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %s: %w", raw, err)
	}
	if len(q) > 0 {
		merged := u.Query()
		for k, vs := range q {
			for _, v := range vs {
				merged.Add(k, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// JoinURL 以单个 / 拼接 base 与 path。
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
