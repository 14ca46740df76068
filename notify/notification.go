package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"chronicle/core"
)

// Notification is what a single destination receives for one event: the
// event and every matched rule routed to that destination.
type Notification struct {
	Event  *core.Event
	Rules  []core.AlertRule
	SentAt time.Time
}

// RuleNames returns the names of the matched rules in match order
func (n Notification) RuleNames() []string {
	names := make([]string, 0, len(n.Rules))
	for _, r := range n.Rules {
		if r.Name != "" {
			names = append(names, r.Name)
		} else {
			names = append(names, r.ID)
		}
	}
	return names
}

// Title is the one-line summary used as email subject and chat headline
func (n Notification) Title() string {
	switch len(n.Rules) {
	case 0:
		return "Activity alert"
	case 1:
		return fmt.Sprintf("Activity alert: %s", n.RuleNames()[0])
	default:
		return fmt.Sprintf("Activity alert: %d rules matched", len(n.Rules))
	}
}

// Fields lists the event details shown in every notification body, in a
// stable order
func (n Notification) Fields() [][2]string {
	if n.Event == nil {
		return nil
	}
	fields := [][2]string{
		{"Logger", n.Event.Logger},
		{"Level", n.Event.Level},
		{"Message type", n.Event.MessageType()},
		{"Time", n.Event.Timestamp.UTC().Format(time.RFC3339)},
	}
	if n.Event.Message != "" {
		fields = append(fields, [2]string{"Message", n.Event.Message})
	}

	keys := make([]string, 0, len(n.Event.Context))
	for k := range n.Event.Context {
		if k == core.ContextKeyMessageKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, [2]string{strings.TrimPrefix(k, core.ContextMarker), fmt.Sprint(n.Event.Context[k])})
	}
	return fields
}

// Text renders the plain-text body used by chat transports
func (n Notification) Text() string {
	var b strings.Builder
	b.WriteString(n.Title())
	b.WriteString("\n")
	if len(n.Rules) > 1 {
		b.WriteString("Rules: ")
		b.WriteString(strings.Join(n.RuleNames(), ", "))
		b.WriteString("\n")
	}
	for _, f := range n.Fields() {
		fmt.Fprintf(&b, "%s: %s\n", f[0], f[1])
	}
	return strings.TrimRight(b.String(), "\n")
}

var emailTemplate = template.Must(template.New("email").Parse(`<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .alert { border-left: 4px solid #f44336; padding: 15px; background: #f9f9f9; }
        .label { font-weight: bold; color: #555; }
    </style>
</head>
<body>
    <div class="alert">
        <h2>{{.Title}}</h2>
        {{if .Rules}}<p><span class="label">Rules:</span> {{range $i, $r := .Rules}}{{if $i}}, {{end}}{{$r}}{{end}}</p>{{end}}
        <table>
        {{range .Fields}}<tr><td class="label">{{index . 0}}</td><td>{{index . 1}}</td></tr>
        {{end}}</table>
    </div>
</body>
</html>
`))

// HTML renders the email body. Values are escaped by html/template.
func (n Notification) HTML() (string, error) {
	data := struct {
		Title  string
		Rules  []string
		Fields [][2]string
	}{
		Title:  n.Title(),
		Rules:  n.RuleNames(),
		Fields: n.Fields(),
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render email body: %w", err)
	}
	return buf.String(), nil
}

// Payload is the JSON document posted to generic webhooks
func (n Notification) Payload() map[string]interface{} {
	rules := make([]map[string]interface{}, 0, len(n.Rules))
	for _, r := range n.Rules {
		rules = append(rules, map[string]interface{}{
			"id":   r.ID,
			"name": r.Name,
			"kind": r.Kind,
		})
	}
	return map[string]interface{}{
		"title":   n.Title(),
		"event":   n.Event,
		"rules":   rules,
		"sent_at": n.SentAt.UTC().Format(time.RFC3339),
	}
}
