package detect

// Preset is a built-in rule template matching a fixed list of message types.
// Entries use the same wildcard and comma forms as message_type conditions.
type Preset struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Events      []string `json:"events"`
}

// Matches reports whether messageType belongs to the preset
func (p Preset) Matches(messageType string) bool {
	return MatchAnyMessageType(p.Events, messageType)
}

func (p Preset) clone() Preset {
	p.Events = append([]string(nil), p.Events...)
	return p
}

var presetCatalog = []Preset{
	{
		ID:          "security",
		Name:        "Security",
		Description: "Failed logins, account changes and extensions installed or removed.",
		Events: []string{
			"UserLogger:user_login_failed,user_unknown_login_failed",
			"UserLogger:user_created,user_deleted,user_role_updated",
			"UserLogger:user_application_password_created",
			"PluginLogger:plugin_installed,plugin_activated,plugin_deactivated,plugin_deleted",
			"ThemeLogger:theme_installed,theme_deleted",
			"CoreUpdatesLogger:core_updated",
		},
	},
	{
		ID:          "user-activity",
		Name:        "User activity",
		Description: "Logins, logouts and profile changes.",
		Events: []string{
			"UserLogger:*",
		},
	},
	{
		ID:          "content-changes",
		Name:        "Content changes",
		Description: "Posts and pages created, updated or removed, and media uploads.",
		Events: []string{
			"PostLogger:post_created,post_updated,post_trashed,post_restored,post_deleted",
			"MediaLogger:*",
		},
	},
	{
		ID:          "updates",
		Name:        "Updates",
		Description: "Core, plugin and theme updates.",
		Events: []string{
			"CoreUpdatesLogger:*",
			"PluginLogger:plugin_updated,plugin_bulk_updated",
			"ThemeLogger:theme_updated",
		},
	},
	{
		ID:          "settings-changes",
		Name:        "Settings changes",
		Description: "Any change to site options.",
		Events: []string{
			"OptionsLogger:*",
		},
	},
}

// Presets returns a copy of the catalog in display order
func Presets() []Preset {
	out := make([]Preset, len(presetCatalog))
	for i, p := range presetCatalog {
		out[i] = p.clone()
	}
	return out
}

// LookupPreset returns a copy of the preset with the given id
func LookupPreset(id string) (Preset, bool) {
	for _, p := range presetCatalog {
		if p.ID == id {
			return p.clone(), true
		}
	}
	return Preset{}, false
}
