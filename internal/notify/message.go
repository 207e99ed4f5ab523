// Package notify composes and sends the requester and administrator emails.
package notify

import (
	"bytes"
	"context"
	"html/template"
)

// Mailer delivers one message. Implementations must not retry silently; the caller
// decides whether a failed send matters.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Table is a rendered grid, used for ledger summaries and record dumps.
type Table struct {
	Header []string
	Rows   [][]string
}

// Message is an HTML email. Paragraphs and Footer are plain text and are escaped.
type Message struct {
	From        string
	To          []string
	CC          []string
	Subject     string
	Paragraphs  []string
	Link        string
	LinkText    string
	Table       *Table
	Footer      []string
	Attachments []string
}

var bodyTemplate = template.Must(template.New("body").Parse(`<html>
<body>
{{- range .Paragraphs}}
<p>{{.}}</p>
{{- end}}
{{- if .Link}}
<p><a href="{{.Link}}">{{if .LinkText}}{{.LinkText}}{{else}}Click Here to View Files{{end}}</a></p>
{{- end}}
{{- with .Table}}
<table border="1">
<thead><tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
{{- end}}
{{- range .Footer}}
<p>{{.}}</p>
{{- end}}
</body>
</html>
`))

// RenderHTML renders the message body.
func RenderHTML(msg Message) (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}
