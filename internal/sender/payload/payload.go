// Package payload renders alert events into channel-specific messages.
// Rendering is pure: the output depends only on the event's fields.
package payload

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"notifier/internal/events"
)

const (
	// RecoveredIcon prefixes titles of recovery notifications.
	RecoveredIcon = "✅"
	// DownIcon prefixes titles of failure notifications.
	DownIcon = "🚨"

	// TimestampLayout is the display format for event timestamps (dd.MM.yyyy HH:mm:ss).
	TimestampLayout = "02.01.2006 15:04:05"
)

// Message is the channel-neutral rendering of an alert.
type Message struct {
	Title string
	Body  string
}

// EmailPayload represents email message content.
type EmailPayload struct {
	Subject string
	Text    string
	HTML    string
}

// Title returns the notification title, which is also the email subject.
func Title(ev *events.AlertEvent) string {
	if ev.IsSuccess {
		return fmt.Sprintf("%s Server %s recovered", RecoveredIcon, ev.ServerHost)
	}
	return fmt.Sprintf("%s Server %s is down!", DownIcon, ev.ServerHost)
}

// Body returns the short plain-text description of the transition.
// Error details are only rendered for failures.
func Body(ev *events.AlertEvent) string {
	if ev.IsSuccess {
		return fmt.Sprintf("Server is responding again.\nProtocol: %s", ev.Protocol)
	}
	return fmt.Sprintf("Error: %s\nCode: %d\nProtocol: %s", ev.ErrorMessage, ev.StatusCode, ev.Protocol)
}

// Render builds the channel-neutral message for ev.
func Render(ev *events.AlertEvent) Message {
	return Message{Title: Title(ev), Body: Body(ev)}
}

// BuildEmailPayload builds email subject, plain-text and HTML bodies from an alert.
func BuildEmailPayload(ev *events.AlertEvent) EmailPayload {
	msg := Render(ev)
	return EmailPayload{
		Subject: msg.Title,
		Text:    msg.Title + "\n\n" + msg.Body,
		HTML:    buildEmailHTML(ev, msg.Title),
	}
}

// BuildChatText builds the text posted to chat recipients.
func BuildChatText(ev *events.AlertEvent) string {
	msg := Render(ev)
	return msg.Title + "\n\n" + msg.Body
}

// FormatTimestamp renders t in UTC using TimestampLayout.
// The zero time renders as an empty string.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

type alertView struct {
	Title      string
	Color      string
	Host       string
	Protocol   string
	Time       string
	Recovered  bool
	Error      string
	StatusCode int
	ServerID   uint32
	Recipients string
}

var alertTemplate = template.Must(template.New("alert").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: {{.Color}};">{{.Title}}</h2>
  <div style="background-color: #f8f9fa; padding: 15px; border-radius: 5px; margin: 15px 0;">
    <p><strong>Server:</strong> {{.Host}}</p>
    <p><strong>Protocol:</strong> {{.Protocol}}</p>
    <p><strong>Time:</strong> {{.Time}}</p>
{{- if .Recovered}}
    <p style="color: green;"><strong>Status:</strong> Server recovered and is operating normally</p>
{{- else}}
    <p style="color: red;"><strong>Error:</strong> {{.Error}}</p>
    <p><strong>Status code:</strong> {{.StatusCode}}</p>
{{- end}}
  </div>
  <div style="margin-top: 20px; padding: 15px; background-color: #e9ecef; border-radius: 5px;">
    <p><strong>Server ID:</strong> {{.ServerID}}</p>
    <p><strong>Recipients:</strong> {{.Recipients}}</p>
  </div>
  <p style="color: #6c757d; font-size: 12px; margin-top: 20px;">
    This is an automated notification from the monitoring system. Please do not reply to this email.
  </p>
</div>
`))

func buildEmailHTML(ev *events.AlertEvent, title string) string {
	view := alertView{
		Title:      title,
		Color:      "red",
		Host:       ev.ServerHost,
		Protocol:   ev.Protocol,
		Time:       FormatTimestamp(ev.Timestamp),
		Recovered:  ev.IsSuccess,
		Error:      ev.ErrorMessage,
		StatusCode: ev.StatusCode,
		ServerID:   ev.ServerID,
		Recipients: strings.Join(ev.Emails, ", "),
	}
	if ev.IsSuccess {
		view.Color = "green"
	}

	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, view); err != nil {
		// The template only reads plain fields; fall back to the text body if that ever changes.
		return template.HTMLEscapeString(title + "\n" + Body(ev))
	}
	return buf.String()
}
