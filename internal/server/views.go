package server

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"regexp"
	"strings"
	texttemplate "text/template"
)

//go:embed templates
var templateFS embed.FS

const defaultTheme = "default"

var themePattern = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)

// viewMode selects between the bare partial and the partial wrapped in the
// full HTML document.
type viewMode int

const (
	viewPartial viewMode = iota
	viewEmbedded
)

func parseViewMode(s string) (viewMode, error) {
	switch strings.ToLower(s) {
	case "", "original", "partial":
		return viewPartial, nil
	case "embedded":
		return viewEmbedded, nil
	default:
		return viewPartial, fmt.Errorf("invalid view value %q", s)
	}
}

// normalizeTheme maps a requested theme to a CSS class suffix.
func normalizeTheme(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !themePattern.MatchString(s) {
		return defaultTheme
	}
	return s
}

type layoutData struct {
	Title   string
	Theme   string
	Content htmltemplate.HTML
}

type testData struct {
	Theme    string
	Greeting string
}

type plainTextData struct {
	Theme string
	Text  string
}

// rendered is a view ready to be written to the client.
type rendered struct {
	contentType string
	body        string
}

type views struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

func loadViews() (*views, error) {
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing html views: %w", err)
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parsing text views: %w", err)
	}
	return &views{html: html, text: text}, nil
}

func (v *views) test(mode viewMode, title, theme, greeting string) (rendered, error) {
	return v.renderHTML(mode, title, theme, "test.html", testData{Theme: theme, Greeting: greeting})
}

// plainText renders text as text/plain, or as preformatted HTML when embedded.
func (v *views) plainText(mode viewMode, title, theme, text string) (rendered, error) {
	if mode == viewEmbedded {
		return v.renderHTML(mode, title, theme, "plaintext.html", plainTextData{Theme: theme, Text: text})
	}

	var buf bytes.Buffer
	if err := v.text.ExecuteTemplate(&buf, "plaintext.txt", plainTextData{Theme: theme, Text: text}); err != nil {
		return rendered{}, fmt.Errorf("rendering plaintext.txt: %w", err)
	}
	return rendered{contentType: "text/plain; charset=utf-8", body: buf.String()}, nil
}

func (v *views) renderHTML(mode viewMode, title, theme, name string, data any) (rendered, error) {
	var partial bytes.Buffer
	if err := v.html.ExecuteTemplate(&partial, name, data); err != nil {
		return rendered{}, fmt.Errorf("rendering %s: %w", name, err)
	}
	if mode == viewPartial {
		return rendered{contentType: "text/html; charset=utf-8", body: partial.String()}, nil
	}

	var page bytes.Buffer
	err := v.html.ExecuteTemplate(&page, "layout.html", layoutData{
		Title:   title,
		Theme:   theme,
		Content: htmltemplate.HTML(partial.String()), //nolint:gosec // produced by our own escaped template
	})
	if err != nil {
		return rendered{}, fmt.Errorf("rendering layout.html: %w", err)
	}
	return rendered{contentType: "text/html; charset=utf-8", body: page.String()}, nil
}
