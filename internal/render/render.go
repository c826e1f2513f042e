// Package render turns generated newsletter sections into email bodies.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

type blockKind int

const (
	paragraphBlock blockKind = iota
	bulletBlock
	takeawayBlock
)

type block struct {
	Kind  blockKind
	Text  template.HTML
	Items []template.HTML
}

type sectionView struct {
	Title    string
	ImageURL string
	Blocks   []block
}

type pageView struct {
	CompanyName string
	Sections    []sectionView
}

var md = goldmark.New()

var page = template.Must(template.New("newsletter").Funcs(template.FuncMap{
	"isBullets":  func(b block) bool { return b.Kind == bulletBlock },
	"isTakeaway": func(b block) bool { return b.Kind == takeawayBlock },
}).Parse(htmlTemplate))

// Subject is the email subject line for a company's newsletter.
func Subject(companyName string) string {
	return companyName + " - Industry Newsletter"
}

// HTML renders the full HTML email document.
func HTML(companyName string, sections []model.Section) (string, error) {
	view := pageView{CompanyName: companyName}
	for _, s := range sections {
		view.Sections = append(view.Sections, sectionView{
			Title:    s.Title,
			ImageURL: s.ImageURL,
			Blocks:   blocks(s.Content),
		})
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// Text renders the plain-text alternative body.
func Text(companyName string, sections []model.Section) string {
	var b strings.Builder
	b.WriteString(companyName)
	b.WriteString(" Newsletter\n\n")
	for _, s := range sections {
		b.WriteString(s.Title)
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(s.Content))
		b.WriteString("\n\n")
	}
	return b.String()
}

// blocks splits section content into paragraphs, bullet lists and takeaways.
// Consecutive "-" lines form a single list.
func blocks(content string) []block {
	var out []block
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "-"):
			item := inline(strings.TrimSpace(strings.TrimPrefix(line, "-")))
			if n := len(out); n > 0 && out[n-1].Kind == bulletBlock {
				out[n-1].Items = append(out[n-1].Items, item)
			} else {
				out = append(out, block{Kind: bulletBlock, Items: []template.HTML{item}})
			}
		case strings.Contains(strings.ToLower(line), "takeaway"):
			out = append(out, block{Kind: takeawayBlock, Text: inline(line)})
		default:
			out = append(out, block{Kind: paragraphBlock, Text: inline(line)})
		}
	}
	return out
}

// inline renders a single line of markdown without its surrounding paragraph.
// Raw HTML in model output is dropped by goldmark; anything that renders as a
// block element falls back to escaped text.
func inline(line string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(line), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(line))
	}
	out := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(out, "<p>") || !strings.HasSuffix(out, "</p>") || strings.Count(out, "<p>") != 1 {
		return template.HTML(template.HTMLEscapeString(line))
	}
	return template.HTML(strings.TrimSuffix(strings.TrimPrefix(out, "<p>"), "</p>"))
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.CompanyName}} Newsletter</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; margin: 0; padding: 0; background-color: #f4f4f4; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; background-color: #ffffff; }
    .header { text-align: center; padding: 20px 0; border-bottom: 2px solid #eee; }
    .section { margin: 30px 0; padding: 20px; border-radius: 5px; background-color: #ffffff; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
    .section-title { color: #333; font-size: 24px; margin-bottom: 15px; font-weight: bold; }
    .section-content { color: #555; font-size: 16px; margin-bottom: 15px; }
    .section-image { width: 100%; max-width: 500px; height: auto; margin: 15px 0; border-radius: 5px; }
    .bullet-points { margin: 15px 0; padding-left: 20px; }
    .bullet-points li { margin-bottom: 8px; color: #555; }
    .takeaway { background-color: #f8f9fa; padding: 15px; margin-top: 15px; border-left: 4px solid #007bff; font-style: italic; }
    @media only screen and (max-width: 600px) {
      .container { width: 100%; padding: 10px; }
      .section { padding: 15px; }
    }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>{{.CompanyName}} Newsletter</h1>
    </div>
{{- range .Sections}}
    <div class="section">
      <h2 class="section-title">{{.Title}}</h2>
      {{- if .ImageURL}}
      <img src="{{.ImageURL}}" alt="{{.Title}}" class="section-image">
      {{- end}}
      <div class="section-content">
      {{- range .Blocks}}
        {{- if isBullets .}}
        <ul class="bullet-points">
          {{- range .Items}}
          <li>{{.}}</li>
          {{- end}}
        </ul>
        {{- else if isTakeaway .}}
        <div class="takeaway">{{.Text}}</div>
        {{- else}}
        <p>{{.Text}}</p>
        {{- end}}
      {{- end}}
      </div>
    </div>
{{- end}}
  </div>
</body>
</html>
`
