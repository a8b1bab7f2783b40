// Package delivery renders digests to HTML and sends them by email.
package delivery

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
	"unicode/utf8"

	"opportunist/internal/models"
)

const descriptionPreview = 300

type section struct {
	Name     string
	Postings []models.StoredPosting
}

type view struct {
	Date     string
	Total    int
	Sections []section
}

var funcs = template.FuncMap{
	"percent": func(score float64) string { return fmt.Sprintf("%.0f%%", score*100) },
	"preview": preview,
	"longDate": func(t *time.Time) string {
		return t.Format("January 02, 2006")
	},
	"shortDate": func(t time.Time) string {
		return t.Format("01/02/2006")
	},
}

var digestTemplate = template.Must(template.New("digest").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Your Daily Opportunities - {{.Date}}</title>
<style>
body { font-family: 'Helvetica Neue', Arial, sans-serif; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background: #f8f9fa; }
.header { background: #667eea; color: white; padding: 30px 20px; border-radius: 10px; text-align: center; }
.section { background: white; margin: 25px 0; border-radius: 8px; }
.section h3 { margin: 0; padding: 15px 20px; border-bottom: 2px solid #e9ecef; }
.opportunity { padding: 20px; border-bottom: 1px solid #e9ecef; }
.meta { font-size: 12px; color: #6c757d; }
.score { background: #28a745; color: white; padding: 2px 6px; border-radius: 12px; font-size: 11px; }
.deadline { color: #dc3545; }
.empty { text-align: center; color: #6c757d; padding: 40px 20px; font-style: italic; }
</style>
</head>
<body>
<div class="header"><h1>Your Daily Opportunities</h1><p>{{.Date}}</p></div>
<p><strong>{{.Total}}</strong> new opportunities discovered</p>
{{- if .Sections}}
<ul>{{range .Sections}}<li><strong>{{.Name}}:</strong> {{len .Postings}}</li>{{end}}</ul>
{{- range .Sections}}
<div class="section">
<h3>{{.Name}} ({{len .Postings}})</h3>
{{- range .Postings}}
<div class="opportunity">
<h4><a href="{{.Link}}" target="_blank">{{.Title}}</a></h4>
<div class="meta">
{{.Source}} <span class="score">{{percent .Score}} match</span>
{{- if .Deadline}} | <span class="deadline">Deadline: {{longDate .Deadline}}</span>{{end}}
{{- if not .PostedAt.IsZero}} | Posted: {{shortDate .PostedAt}}{{end}}
</div>
<p>{{preview .Description}}</p>
</div>
{{- end}}
</div>
{{- end}}
{{- else}}
<div class="empty">
<h3>No new opportunities today</h3>
<p>We didn't find any new opportunities matching your interests in the last 24 hours.</p>
</div>
{{- end}}
<p class="meta">You received this because you subscribed to daily opportunity updates.</p>
</body>
</html>
`))

// Render produces the HTML body of a digest email.
func Render(d *models.Digest, now time.Time) (string, error) {
	v := view{Date: now.Format("Monday, January 02, 2006"), Total: d.TotalCount}
	for _, cat := range d.OrderedCategories() {
		v.Sections = append(v.Sections, section{Name: title(string(cat)), Postings: d.ByCategory[cat]})
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render digest for %s: %w", d.UserEmail, err)
	}
	return buf.String(), nil
}

func Subject(d *models.Digest, now time.Time) string {
	return fmt.Sprintf("Your Daily Opportunities - %s (%d new)", now.Format("January 02, 2006"), d.TotalCount)
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= descriptionPreview {
		return s
	}
	return string([]rune(s)[:descriptionPreview]) + "..."
}

func title(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
