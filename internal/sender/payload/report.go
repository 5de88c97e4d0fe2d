package payload

import (
	"bytes"
	"fmt"
	"html/template"

	"notifier/internal/events"
)

// StatusReportSubject is the subject line of the periodic status report.
const StatusReportSubject = "📊 Server status report"

type reportView struct {
	AllUp   bool
	Time    string
	events.StatusReport
}

var reportTemplate = template.Must(template.New("report").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>{{if .AllUp}}✅ All systems are operating normally{{else}}⚠️ WARNING: Some servers have problems!{{end}}</h2>
  <table style="border-collapse: collapse; margin: 15px 0;">
    <tr><td><strong>Total servers:</strong></td><td>{{.TotalServers}}</td></tr>
    <tr><td><strong>Up:</strong></td><td style="color: green;">{{.UpServers}}</td></tr>
    <tr><td><strong>Down:</strong></td><td style="color: red;">{{.DownServers}}</td></tr>
    <tr><td><strong>Incidents today:</strong></td><td>{{.TotalIncidentsToday}}</td></tr>
  </table>
{{- if .Time}}
  <p style="color: #6c757d; font-size: 12px;">Generated at {{.Time}} UTC</p>
{{- end}}
</div>
`))

// BuildStatusReportPayload renders the operator status report email.
func BuildStatusReportPayload(report events.StatusReport) EmailPayload {
	view := reportView{
		AllUp:        report.Healthy(),
		Time:         FormatTimestamp(report.GeneratedAt),
		StatusReport: report,
	}

	text := fmt.Sprintf("Total servers: %d\nUp: %d\nDown: %d\nIncidents today: %d",
		report.TotalServers, report.UpServers, report.DownServers, report.TotalIncidentsToday)

	var buf bytes.Buffer
	html := ""
	if err := reportTemplate.Execute(&buf, view); err == nil {
		html = buf.String()
	} else {
		html = template.HTMLEscapeString(text)
	}

	return EmailPayload{
		Subject: StatusReportSubject,
		Text:    text,
		HTML:    html,
	}
}
