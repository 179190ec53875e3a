package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var registerTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		// Accepts both time.Time and *time.Time so optional dates render
		// without a separate helper.
		"formatDate": func(t interface{}, layout string) string {
			switch v := t.(type) {
			case time.Time:
				return v.Format(layout)
			case *time.Time:
				if v == nil {
					return ""
				}
				return v.Format(layout)
			default:
				return ""
			}
		},
	}

	templateContent, err := templateFS.ReadFile("templates/register.html")
	if err != nil {
		// Fallback to built-in template if file not found
		registerTemplate = template.Must(template.New("register").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	registerTemplate = template.Must(template.New("register").Funcs(funcMap).Parse(string(templateContent)))
}

// RenderRegisterHTML renders the register template with provided data
func RenderRegisterHTML(reg Register) (string, error) {
	var buf bytes.Buffer
	if err := registerTemplate.Execute(&buf, reg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Document Register</title>
  <style>
    body { font-family: Arial, sans-serif; font-size: 11px; }
    table { width: 100%; border-collapse: collapse; }
    th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
  </style>
</head>
<body>
  <h1>Document Register</h1>
  <div>{{.OwnerName}} | {{formatDate .GeneratedAt "02/01/2006"}}</div>
  {{range .Documents}}
  <h2>{{.PointNumber}} - {{.Title}} ({{.Revision}}) - {{.Status}}</h2>
  <table>
    <tr><th>Title</th><th>Revision</th><th>Expiration</th><th>Status</th></tr>
    {{range .Items}}
    <tr><td>{{.Title}}</td><td>Rev.{{.Revision}}</td><td>{{formatDate .ExpirationDate "02/01/2006"}}</td><td>{{.Status}}</td></tr>
    {{end}}
  </table>
  {{end}}
</body>
</html>`
