package fetch

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxSummary 为日志与错误中保留的响应体字符数上限。
const maxSummary = 500

// Summarize 将响应体压缩为一行摘要：
// - HTML（网关错误页等）取 <title> 与可见文本
// - 其余按原文截断
func Summarize(body []byte, contentType string) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	text := string(trimmed)
	if strings.Contains(strings.ToLower(contentType), "html") || bytes.HasPrefix(trimmed, []byte("<")) {
		if s := htmlText(trimmed); s != "" {
			text = s
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > maxSummary {
		text = string(r[:maxSummary]) + "…"
	}
	return text
}

func htmlText(b []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return ""
	}
	doc.Find("script,style,noscript").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	bodyText := strings.TrimSpace(doc.Find("body").Text())
	switch {
	case title == "":
		return bodyText
	case bodyText == "" || strings.HasPrefix(bodyText, title):
		return title
	default:
		return title + ": " + bodyText
	}
}
