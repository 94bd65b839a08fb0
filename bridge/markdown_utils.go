package bridge

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"
)

// markdownConverter renders source markup to the HTML Matrix clients expect.
// Hard wraps keep single newlines visible the way chat messages read.
var markdownConverter = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
	goldmark.WithRendererOptions(ghtml.WithHardWraps()),
)

// convertMarkdownToHTML converts message markup to HTML for Matrix formatted
// bodies. Conversion has no failure path: input that cannot be rendered is
// returned HTML-escaped instead.
func convertMarkdownToHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := markdownConverter.Convert([]byte(markdown), &buf); err != nil {
		return html.EscapeString(markdown)
	}
	return strings.TrimSpace(buf.String())
}

// rewriteSelfMentions replaces mention markup referring to the sender
// (<@U123> or <@U123|label>) with the sender's plain display text. Mentions
// of other subjects and unrelated text pass through unchanged.
func rewriteSelfMentions(text, subjectID, displayText string) string {
	if subjectID == "" || displayText == "" {
		return text
	}

	pattern := regexp.MustCompile(`<@` + regexp.QuoteMeta(subjectID) + `(\|[^>]*)?>`)
	return pattern.ReplaceAllString(text, displayText)
}
