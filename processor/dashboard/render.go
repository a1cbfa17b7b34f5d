package dashboard

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"

	"github.com/c360studio/aibenefits/tracker"
)

// The markdown engine and sanitizer carry no per-call state and are shared.
var (
	markdownOnce   sync.Once
	markdownEngine goldmark.Markdown
	htmlPolicy     *bluemonday.Policy
)

func markdownRenderer() (goldmark.Markdown, *bluemonday.Policy) {
	markdownOnce.Do(func() {
		markdownEngine = goldmark.New(goldmark.WithExtensions(extension.GFM))
		htmlPolicy = bluemonday.UGCPolicy()
	})
	return markdownEngine, htmlPolicy
}

// renderMarkdown converts user-written markdown to sanitized HTML. goldmark
// already drops raw HTML; the sanitizer also strips unsafe link schemes.
func renderMarkdown(src string) template.HTML {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	md, policy := markdownRenderer()
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(policy.SanitizeBytes(buf.Bytes()))
}

// inlineElements do not break words apart in an excerpt.
var inlineElements = map[string]bool{
	"a": true, "b": true, "code": true, "del": true, "em": true,
	"i": true, "span": true, "strong": true,
}

// excerpt renders src as markdown and returns at most limit runes of its
// visible text, whitespace collapsed, with an ellipsis when cut.
func excerpt(src string, limit int) string {
	rendered := renderMarkdown(src)
	if rendered == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(string(rendered)))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
		case n.Type == html.ElementNode && !inlineElements[n.Data]:
			sb.WriteByte(' ')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	text := strings.Join(strings.Fields(sb.String()), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := strings.TrimRight(string(runes[:limit]), " ")
	return cut + "…"
}

// money formats an amount with thousands separators and no cents above
// 1000. The sign goes before the currency symbol.
func money(v float64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	if v >= 1000 {
		return sign + "$" + humanize.Comma(int64(v))
	}
	return sign + "$" + humanize.CommafWithDigits(v, 2)
}

// ago renders a time relative to now, e.g. "3 days ago".
func ago(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

func dateOnly(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2 Jan 2006")
}

func percent(v any) string {
	switch n := v.(type) {
	case int:
		return fmt.Sprintf("%d%%", n)
	case float64:
		return humanize.FtoaWithDigits(n, 1) + "%"
	}
	return fmt.Sprint(v)
}

// payback renders an ROI payback period.
func payback(months *float64) string {
	if months == nil {
		return "never"
	}
	return humanize.FtoaWithDigits(*months, 1) + " months"
}

// severityClass maps alert and risk severities to a CSS modifier.
func severityClass(v any) string {
	switch fmt.Sprint(v) {
	case "CRITICAL", "HIGH":
		return "sev-critical"
	case "WARNING", "MEDIUM":
		return "sev-warning"
	}
	return "sev-info"
}

// label turns an enum value such as IN_PROGRESS into "in progress".
func label(v any) string {
	return strings.ReplaceAll(strings.ToLower(fmt.Sprint(v)), "_", " ")
}

// themeClass is the body class for a user's theme preference.
func themeClass(u *tracker.User) string {
	if u == nil || !u.Theme.Valid() {
		return "theme-system"
	}
	return "theme-" + string(u.Theme)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"markdown": renderMarkdown,
		"excerpt":  excerpt,
		"money":    money,
		"ago":      ago,
		"date":     dateOnly,
		"percent":  percent,
		"payback":  payback,
		"severity": severityClass,
		"theme":    themeClass,
		"label":    label,
	}
}
