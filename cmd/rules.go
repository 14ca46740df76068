package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"chronicle/core"
	"chronicle/detect"
	"chronicle/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// maxEventFileSize caps event files read by "rules test"
const maxEventFileSize = 10 * 1024 * 1024

func newRulesCmd(opts *rootOptions) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Check and import alert rule files",
		Long: `Validate, describe and test alert rule files (JSON or YAML) without
running the service, or import them into the rule store.`,
	}

	rulesCmd.AddCommand(newRulesValidateCmd(opts))
	rulesCmd.AddCommand(newRulesDescribeCmd(opts))
	rulesCmd.AddCommand(newRulesTestCmd(opts))
	rulesCmd.AddCommand(newRulesImportCmd(opts))

	return rulesCmd
}

// offlineEngine builds an engine with no user directory; roles come from
// the events' _user_role context only
func offlineEngine() *detect.Engine {
	return detect.NewEngine(nil, zap.NewNop().Sugar())
}

type ruleSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Enabled      bool     `json:"enabled"`
	Destinations []string `json:"destinations"`
	Description  string   `json:"description"`
}

func summarize(engine *detect.Engine, rule core.AlertRule) ruleSummary {
	return ruleSummary{
		ID:           rule.ID,
		Name:         rule.Name,
		Kind:         string(rule.Kind),
		Enabled:      rule.Enabled,
		Destinations: rule.Destinations,
		Description:  engine.DescribeRule(rule),
	}
}

func newRulesValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a rules file",
		Long:  "Check a rules file against the document schema and validate every custom rule's conditions.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			doc, err := detect.LoadRulesFile(args[0], nil)
			if err != nil {
				if opts.outputJSON {
					_ = outputAsJSON(out, detect.ValidationResult{Valid: false, Errors: []string{err.Error()}})
				} else {
					errorColor.Fprintf(out, "✗ %s is invalid\n", args[0])
					fmt.Fprintf(out, "  %v\n", err)
				}
				return fmt.Errorf("validation failed")
			}

			if opts.outputJSON {
				return outputAsJSON(out, detect.ValidationResult{Valid: true, Errors: []string{}})
			}
			successColor.Fprintf(out, "✓ %s is valid\n", args[0])
			fmt.Fprintf(out, "  %d rules, %d destinations\n", len(doc.Rules), len(doc.Destinations))
			for _, r := range doc.Rules {
				if !r.Enabled {
					warningColor.Fprintf(out, "  - %s (disabled)\n", r.ID)
				}
			}
			return nil
		},
	}
}

func newRulesDescribeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <file>",
		Short: "Describe each rule in plain language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := detect.LoadRulesFile(args[0], nil)
			if err != nil {
				return err
			}

			engine := offlineEngine()
			summaries := make([]ruleSummary, 0, len(doc.Rules))
			for _, r := range doc.Rules {
				summaries = append(summaries, summarize(engine, r))
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, summaries)
			}

			printHeader(out, "RULES", 80)
			for _, s := range summaries {
				headerColor.Fprintf(out, "%s", s.ID)
				fmt.Fprintf(out, "  %s [%s]", s.Name, s.Kind)
				if !s.Enabled {
					warningColor.Fprint(out, " disabled")
				}
				fmt.Fprintln(out)
				fmt.Fprintf(out, "  %s\n", s.Description)
				if len(s.Destinations) > 0 {
					infoColor.Fprintf(out, "  → %s\n", strings.Join(s.Destinations, ", "))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

// eventResult lists the rules an event matched
type eventResult struct {
	EventID     string   `json:"event_id"`
	MessageType string   `json:"message_type"`
	Excluded    bool     `json:"excluded,omitempty"`
	Matched     []string `json:"matched"`
}

func newRulesTestCmd(opts *rootOptions) *cobra.Command {
	var onlyEnabled bool

	cmd := &cobra.Command{
		Use:   "test <rules-file> <event-file>",
		Short: "Test events against a rules file",
		Long: `Evaluate every event in the event file (one event object or a list,
JSON or YAML) against every rule in the rules file and report which rules match.

User roles are taken from the events' _user_role context only.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := detect.LoadRulesFile(args[0], nil)
			if err != nil {
				return err
			}
			events, err := loadEventsFile(args[1])
			if err != nil {
				return err
			}

			results := testEvents(cmd.Context(), doc.Rules, events, onlyEnabled)

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, results)
			}
			for _, r := range results {
				headerColor.Fprintf(out, "%s", r.MessageType)
				fmt.Fprintf(out, "  (%s)\n", r.EventID)
				switch {
				case r.Excluded:
					warningColor.Fprintln(out, "  excluded logger, never alerts")
				case len(r.Matched) == 0:
					fmt.Fprintln(out, "  no rules matched")
				default:
					for _, id := range r.Matched {
						successColor.Fprintf(out, "  ✓ %s\n", id)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&onlyEnabled, "enabled-only", false, "Skip disabled rules")

	return cmd
}

func testEvents(ctx context.Context, rules []core.AlertRule, events []*core.Event, onlyEnabled bool) []eventResult {
	if ctx == nil {
		ctx = context.Background()
	}
	engine := offlineEngine()

	results := make([]eventResult, 0, len(events))
	for _, event := range events {
		res := eventResult{EventID: event.ID, MessageType: event.MessageType(), Matched: []string{}}
		if engine.IsExcluded(event.Logger) {
			res.Excluded = true
			results = append(results, res)
			continue
		}
		for _, rule := range rules {
			if onlyEnabled && !rule.Enabled {
				continue
			}
			rule.Normalize()
			if engine.EvaluateRule(ctx, rule, event) {
				res.Matched = append(res.Matched, rule.ID)
			}
		}
		results = append(results, res)
	}
	return results
}

// loadEventsFile reads one event or a list of events from JSON or YAML
func loadEventsFile(path string) ([]*core.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxEventFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}
	if len(data) > maxEventFileSize {
		return nil, fmt.Errorf("event file exceeds %d bytes", maxEventFileSize)
	}

	if detect.FormatForPath(path) == detect.FormatYAML {
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to parse event file: %w", err)
		}
		if data, err = json.Marshal(generic); err != nil {
			return nil, fmt.Errorf("failed to convert event file: %w", err)
		}
	}

	var events []*core.Event
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("failed to parse event file: %w", err)
		}
	} else {
		var event core.Event
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to parse event file: %w", err)
		}
		events = []*core.Event{&event}
	}

	for i, event := range events {
		if err := service.PrepareEvent(event); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return events, nil
}
