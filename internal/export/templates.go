package export

import (
	"bytes"
	"html/template"
	"time"
)

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title         string
	VersionNumber int
	ContentHTML   template.HTML
	Author        string
	CreatedAt     time.Time
	Stage         string
	History       []TemplateHistoryEntry
}

type TemplateHistoryEntry struct {
	At       time.Time
	Stage    string
	Action   string
	Role     string
	Outcome  string
	Comments string
}

var documentTemplate = template.Must(template.New("document").Parse(documentHTML))

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: "Times New Roman", serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #555; font-size: 0.9em; margin-bottom: 2rem; }
    section.page + section.page { page-break-before: always; }
    table.history { border-collapse: collapse; width: 100%; font-size: 0.85em; }
    table.history td, table.history th { border: 1px solid #999; padding: 0.25rem 0.5rem; text-align: left; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">Version {{.VersionNumber}}{{if .Stage}} | {{.Stage}}{{end}} | {{.Author}} | {{.CreatedAt.Format "2 Jan 2006"}}</div>
  <div class="content">{{.ContentHTML}}</div>
  {{if .History}}
  <h2>Review history</h2>
  <table class="history">
    <tr><th>Date</th><th>Stage</th><th>Action</th><th>Role</th><th>Outcome</th><th>Comments</th></tr>
    {{range .History}}<tr><td>{{.At.Format "2006-01-02"}}</td><td>{{.Stage}}</td><td>{{.Action}}</td><td>{{.Role}}</td><td>{{.Outcome}}</td><td>{{.Comments}}</td></tr>
    {{end}}
  </table>
  {{end}}
</body>
</html>`
