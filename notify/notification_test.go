package notify

import (
	"testing"

	"chronicle/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotification_Title(t *testing.T) {
	assert.Equal(t, "Activity alert", Notification{}.Title())
	assert.Equal(t, "Activity alert: Failed logins", testNotification().Title())

	n := Notification{Rules: []core.AlertRule{{ID: "a"}, {ID: "b", Name: "B"}}}
	assert.Equal(t, "Activity alert: 2 rules matched", n.Title())
	assert.Equal(t, []string{"a", "B"}, n.RuleNames())
}

func TestNotification_Fields(t *testing.T) {
	fields := testNotification().Fields()
	require.GreaterOrEqual(t, len(fields), 5)
	assert.Equal(t, [2]string{"Logger", "UserLogger"}, fields[0])
	assert.Equal(t, [2]string{"Message type", "UserLogger:user_login_failed"}, fields[2])
	assert.Contains(t, fields, [2]string{"user_login", "mallory"})
	assert.Contains(t, fields, [2]string{"Message", "Failed login"})

	assert.Nil(t, Notification{}.Fields())
}

func TestNotification_TextListsRulesWhenSeveral(t *testing.T) {
	n := testNotification()
	assert.NotContains(t, n.Text(), "Rules:")

	n.Rules = append(n.Rules, core.AlertRule{ID: "security", Name: "Security"})
	assert.Contains(t, n.Text(), "Rules: Failed logins, Security")
}

func TestNotification_HTMLEscapes(t *testing.T) {
	n := testNotification()
	n.Event.WithContext("_comment", "<script>alert(1)</script>")

	body, err := n.HTML()
	require.NoError(t, err)
	assert.Contains(t, body, "Activity alert: Failed logins")
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestBuildMessage_StripsHeaderInjection(t *testing.T) {
	msg := string(buildMessage("a@example.test", []string{"b@example.test"}, "Alert\r\nBcc: evil@example.test", "<p>x</p>"))
	assert.Contains(t, msg, "Subject: Alert  Bcc: evil@example.test\r\n")
	assert.NotContains(t, msg, "\r\nBcc:")
}
