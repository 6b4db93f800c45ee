package debate

import (
	"bytes"
	_ "embed"
	"html/template"
	"io"
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed templates/page.html
var pageTemplate string

//go:embed templates/debate.html
var debateTemplate string

//go:embed templates/styles.css
var cssStyles string

const pageTitle = "Dual-AI Dissertation Debate"

// Advisor replies are untrusted model output, so raw HTML is escaped
// rather than passed through.
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
	),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
		html.WithXHTML(),
	),
)

// RenderMarkdown converts markdown to sanitized HTML.
func RenderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		slog.Error("Failed to convert markdown to HTML", "error", err)
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"markdown": RenderMarkdown,
}).New("page").Parse(pageTemplate))

func init() {
	template.Must(templates.New("debate").Parse(debateTemplate))
}

type pageData struct {
	Title     string
	CSS       template.CSS
	XSRFToken string
	Recent    []Debate
}

type debatePageData struct {
	Title  string
	Date   string
	CSS    template.CSS
	Debate *Debate
}

func renderPage(w io.Writer, xsrfToken string, recent []Debate) error {
	return templates.ExecuteTemplate(w, "page", pageData{
		Title:     pageTitle,
		CSS:       template.CSS(cssStyles),
		XSRFToken: xsrfToken,
		Recent:    recent,
	})
}

// RenderDebateHTML writes a standalone HTML document of a debate with
// embedded CSS.
func RenderDebateHTML(w io.Writer, d *Debate) error {
	return templates.ExecuteTemplate(w, "debate", debatePageData{
		Title:  pageTitle,
		Date:   d.CreatedAt.Format("2 January 2006 15:04"),
		CSS:    template.CSS(cssStyles),
		Debate: d,
	})
}
