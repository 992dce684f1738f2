// Package email sends workflow notifications over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return nil
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := buildMessage(from, to, subject, textBody, htmlBody)
	return s.send(s.server, s.auth, s.config.From, to, msg)
}

const boundary = "pubflow-alt"

func buildMessage(from string, to []string, subject, textBody, htmlBody string) []byte {
	headers := [][2]string{
		{"To", strings.Join(to, ", ")},
		{"From", from},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", `multipart/alternative; boundary="` + boundary + `"`},
	}
	var msg bytes.Buffer
	for _, h := range headers {
		msg.WriteString(h[0] + ": " + h[1] + "\r\n")
	}
	msg.WriteString("\r\n")
	for _, part := range [][2]string{{"text/plain", textBody}, {"text/html", htmlBody}} {
		msg.WriteString("--" + boundary + "\r\n")
		msg.WriteString("Content-Type: " + part[0] + "; charset=UTF-8\r\n\r\n")
		msg.WriteString(part[1] + "\r\n\r\n")
	}
	msg.WriteString("--" + boundary + "--\r\n")
	return msg.Bytes()
}

type StageData struct {
	AppName     string
	DocumentID  string
	InstanceID  string
	StageName   string
	FromStageID string
	Action      string
	Outcome     string
	ActingRole  string
	Comments    string
}

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var stageEmailTemplate = template.Must(template.New("stage").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}}: {{.StageName}}</title>
</head>
<body>
    <h1>{{.AppName}}</h1>
    <p>Document <strong>{{.DocumentID}}</strong> is now at <strong>{{.StageName}}</strong>.</p>
    <p>{{.ActingRole}} performed {{.Action}} ({{.Outcome}}){{if .FromStageID}} from {{.FromStageID}}{{end}}.</p>
    {{if .Comments}}<blockquote>{{.Comments}}</blockquote>{{end}}
    <p class="footer">Workflow instance {{.InstanceID}}</p>
</body>
</html>`))
