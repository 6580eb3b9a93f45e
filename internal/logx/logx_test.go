package logx

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, levelSilent, ParseLevel("off"))
}

func TestPrettyHandler_Locales(t *testing.T) {
	cases := map[string]string{
		"zh-CN": "[警告]",
		"":      "[警告]",
		"es-MX": "[AVISO]",
		"en":    "[WARN]",
	}
	for locale, want := range cases {
		var buf bytes.Buffer
		l := slog.New(NewPrettyHandler(&buf, slog.LevelInfo, locale, "never"))
		l.Warn("page 3 retry", "attempt", 2)
		line := buf.String()
		assert.Contains(t, line, want, locale)
		assert.True(t, strings.HasSuffix(line, "page 3 retry attempt=2\n"), line)
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewPrettyHandler(&buf, slog.LevelWarn, "en", "never"))
	l.Info("hidden")
	l.Error("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[ERROR] shown")

	buf.Reset()
	l = slog.New(NewPrettyHandler(&buf, levelSilent, "en", "never"))
	l.Error("nothing")
	assert.Empty(t, buf.String())
}

func TestPrettyHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewPrettyHandler(&buf, slog.LevelDebug, "en", "never")).
		With("run", "r1").
		WithGroup("page")
	l.Debug("fetched", "n", 4)
	assert.Contains(t, buf.String(), "[DEBUG] fetched run=r1 page.n=4")
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, slog.LevelInfo, "en", "always")).Info("x")
	assert.Contains(t, buf.String(), "\x1b[36m[INFO]\x1b[0m")

	t.Setenv("NO_COLOR", "1")
	buf.Reset()
	slog.New(NewPrettyHandler(&buf, slog.LevelInfo, "en", "always")).Info("x")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestInitTo_Helpers(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	InitTo(&buf, "info", "pretty", "es", "never")
	Infof("[w%d] page %d: %d items", 1, 0, 50)
	Debugf("not shown")
	assert.Contains(t, buf.String(), "[INFO] [w1] page 0: 50 items")
	assert.NotContains(t, buf.String(), "not shown")

	buf.Reset()
	InitTo(&buf, "info", "json", "", "")
	Warnf("boom %s", "x")
	assert.Contains(t, buf.String(), `"msg":"boom x"`)
}
