package core

// RuleKind distinguishes custom rules from preset rules
type RuleKind string

const (
	// RuleKindCustom is a user-authored rule with an explicit condition tree
	RuleKindCustom RuleKind = "custom"
	// RuleKindPreset references an entry of the built-in preset catalog
	RuleKindPreset RuleKind = "preset"
)

// String returns the string representation
func (k RuleKind) String() string {
	return string(k)
}

// IsValid checks if the kind is valid
func (k RuleKind) IsValid() bool {
	switch k {
	case RuleKindCustom, RuleKindPreset:
		return true
	default:
		return false
	}
}

// DestinationType names a notification transport
type DestinationType string

const (
	DestinationEmail    DestinationType = "email"
	DestinationSlack    DestinationType = "slack"
	DestinationDiscord  DestinationType = "discord"
	DestinationTelegram DestinationType = "telegram"
	DestinationWebhook  DestinationType = "webhook"
)

// IsValid checks if the destination type is known
func (t DestinationType) IsValid() bool {
	switch t {
	case DestinationEmail, DestinationSlack, DestinationDiscord, DestinationTelegram, DestinationWebhook:
		return true
	default:
		return false
	}
}

// NotificationLogger is the logger name under which notification delivery is
// recorded. Events from this logger never trigger alerts.
const NotificationLogger = "AlertNotificationLogger"

// MaxErrorMessageLength bounds error text returned to API clients
const MaxErrorMessageLength = 500
