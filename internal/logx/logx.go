// 包 logx 是对标准库 slog 的薄封装：
// 级别/格式/语言/颜色可配置，pretty 格式输出带本地化等级标签，
// 业务代码只通过 Debugf/Infof/Warnf/Errorf 打日志。
package logx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// levelSilent 高于所有等级，用于关闭日志。
const levelSilent slog.Level = 100

// Init 初始化输出到 stdout 的全局日志器。
func Init(level, format, locale, colorMode string) {
	InitTo(os.Stdout, level, format, locale, colorMode)
}

// InitTo 同 Init，但输出到 w。
func InitTo(w io.Writer, level, format, locale, colorMode string) {
	lv := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lv}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "pretty", "":
		handler = NewPrettyHandler(w, lv, locale, colorMode)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ParseLevel 将字符串级别解析为 slog.Level；未知值按 info 处理。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none", "silent", "off":
		return levelSilent
	default:
		return slog.LevelInfo
	}
}

func Debugf(format string, v ...any) { slog.Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { slog.Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { slog.Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { slog.Error(fmt.Sprintf(format, v...)) }

// PrettyHandler 面向人读的单行输出：时间 等级 消息 k=v...
type PrettyHandler struct {
	out     io.Writer
	min     slog.Level
	palette map[slog.Level]style
	ansi    bool
	lock    *sync.Mutex
	prefix  string      // WithGroup 累积的分组前缀，形如 "a.b."
	preset  []slog.Attr // WithAttrs 预置的属性，键已带前缀
}

// style 为单个等级的标签与 ANSI 颜色码。
type style struct {
	tag  string
	ansi string
}

// NewPrettyHandler 创建 PrettyHandler；locale 为空时使用 zh-CN。
func NewPrettyHandler(w io.Writer, lv slog.Level, locale string, colorMode string) *PrettyHandler {
	if w == nil {
		w = os.Stdout
	}
	return &PrettyHandler{
		out:     w,
		min:     lv,
		palette: paletteFor(locale),
		ansi:    colorEnabled(w, colorMode),
		lock:    new(sync.Mutex),
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, l slog.Level) bool {
	if h.min >= levelSilent {
		return false
	}
	return l >= h.min
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}
	var sb strings.Builder
	sb.WriteString(when.Format(time.DateTime))
	sb.WriteString(" " + h.tag(r.Level) + " " + r.Message)
	for _, a := range h.preset {
		appendAttr(&sb, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&sb, h.prefix, a)
		return true
	})
	sb.WriteString("\n")

	h.lock.Lock()
	defer h.lock.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = append(append([]slog.Attr(nil), h.preset...), attrs...)
	for i := len(h.preset); i < len(next.preset); i++ {
		next.preset[i].Key = h.prefix + next.preset[i].Key
	}
	return &next
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix += name + "."
	return &next
}

// tag 返回等级标签，开启颜色时带 ANSI 转义。
func (h *PrettyHandler) tag(l slog.Level) string {
	s, ok := h.palette[l]
	if !ok {
		return fmt.Sprintf("[L%d]", l)
	}
	if !h.ansi {
		return s.tag
	}
	return "\x1b[" + s.ansi + "m" + s.tag + "\x1b[0m"
}

func appendAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	sb.WriteString(" " + prefix + a.Key + "=")
	sb.WriteString(a.Value.Resolve().String())
}

// paletteFor 按语言生成各等级的样式；颜色与语言无关。
func paletteFor(locale string) map[slog.Level]style {
	tags := [...]string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"}
	switch l := strings.ToLower(strings.TrimSpace(locale)); {
	case l == "" || strings.HasPrefix(l, "zh"):
		tags = [...]string{"[调试]", "[信息]", "[警告]", "[错误]"}
	case strings.HasPrefix(l, "es"):
		tags = [...]string{"[DEPURACIÓN]", "[INFO]", "[AVISO]", "[ERROR]"}
	}
	return map[slog.Level]style{
		slog.LevelDebug: {tags[0], "90"},
		slog.LevelInfo:  {tags[1], "36"},
		slog.LevelWarn:  {tags[2], "33"},
		slog.LevelError: {tags[3], "31"},
	}
}

// colorEnabled：NO_COLOR 优先；always 强制开启；auto 仅对终端开启。
func colorEnabled(w io.Writer, mode string) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	m := strings.ToLower(strings.TrimSpace(mode))
	if m == "always" {
		return true
	}
	if m != "" && m != "auto" {
		return false
	}
	return isTerminal(w)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
