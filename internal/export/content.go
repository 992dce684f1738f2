package export

import (
	"html"
	"strings"

	"pubflow/api/internal/feedback"
)

// ContentToHTML renders plain document text. Each paragraph becomes a <p>,
// line breaks inside a paragraph become <br>, and page breaks start a new
// section.
func ContentToHTML(content string) string {
	var b strings.Builder
	page := 0
	for _, para := range feedback.Paragraphs(content) {
		if para.Page != page {
			if page != 0 {
				b.WriteString("</section>")
			}
			page = para.Page
			b.WriteString(`<section class="page">`)
		}
		lines := strings.Split(para.Text, "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(line)
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>"))
		b.WriteString("</p>")
	}
	if page != 0 {
		b.WriteString("</section>")
	}
	return b.String()
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
