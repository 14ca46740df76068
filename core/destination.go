package core

import "time"

// Destination is a notification target that rules route matches to
type Destination struct {
	ID      string                 `json:"id" yaml:"id" example:"ops-slack"`
	Name    string                 `json:"name" yaml:"name" example:"Ops channel"`
	Type    DestinationType        `json:"type" yaml:"type" example:"slack"`
	Config  map[string]interface{} `json:"config" yaml:"config" swaggertype:"object"`
	Enabled bool                   `json:"enabled" yaml:"enabled"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// ConfigString returns a string config value or the empty string
func (d Destination) ConfigString(key string) string {
	if d.Config == nil {
		return ""
	}
	if v, ok := d.Config[key].(string); ok {
		return v
	}
	return ""
}

// ConfigStrings returns a string list config value. Accepts both []string and
// the []interface{} shape produced by JSON decoding.
func (d Destination) ConfigStrings(key string) []string {
	if d.Config == nil {
		return nil
	}
	switch v := d.Config[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}
