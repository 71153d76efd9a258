package detect

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"tdrf/core"

	"go.uber.org/zap"
)

// TypeMatch controls how a rule's event types are compared with event types.
type TypeMatch string

const (
	// MatchSubstring treats a rule type as matching any event type containing it.
	MatchSubstring TypeMatch = "substring"
	// MatchExact requires equal type names.
	MatchExact TypeMatch = "exact"
)

func (m TypeMatch) matches(eventType, ruleType string) bool {
	if m == MatchExact {
		return eventType == ruleType
	}
	return strings.Contains(eventType, ruleType)
}

// RuleEngine evaluates correlation rules against an EventIndex.
type RuleEngine struct {
	index     *EventIndex
	rules     []Rule
	typeMatch TypeMatch
	logger    *zap.SugaredLogger
}

// NewRuleEngine creates a rule engine over index. Rules are normalized on
// entry; rules that cannot be evaluated are kept but never fire.
func NewRuleEngine(index *EventIndex, rules []Rule, typeMatch TypeMatch, logger *zap.SugaredLogger) *RuleEngine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if typeMatch == "" {
		typeMatch = MatchSubstring
	}
	re := &RuleEngine{index: index, typeMatch: typeMatch, logger: logger}
	for _, r := range rules {
		re.AddRule(r)
	}
	return re
}

// AddRule appends r to the rule list.
func (re *RuleEngine) AddRule(r Rule) {
	if err := r.Validate(); err != nil {
		re.logger.Warnf("Correlation rule %q will not fire: %v", r.Name, err)
	}
	re.rules = append(re.rules, r.Normalize())
}

// RemoveRule deletes every rule named name and reports whether any was removed.
func (re *RuleEngine) RemoveRule(name string) bool {
	before := len(re.rules)
	re.rules = slices.DeleteFunc(re.rules, func(r Rule) bool { return r.Name == name })
	return len(re.rules) != before
}

// Rules returns a copy of the current rule list.
func (re *RuleEngine) Rules() []Rule {
	out := make([]Rule, len(re.rules))
	for i, r := range re.rules {
		out[i] = r.clone()
	}
	return out
}

// Len returns the number of rules.
func (re *RuleEngine) Len() int { return len(re.rules) }

// MaxWindow returns the widest rule window, or zero with no rules.
func (re *RuleEngine) MaxWindow() time.Duration {
	var widest time.Duration
	for _, r := range re.rules {
		if w := r.Window(); w > widest {
			widest = w
		}
	}
	return widest
}

// Evaluate runs every applicable rule for e. now is the engine's reference
// time for window queries.
func (re *RuleEngine) Evaluate(e *core.Event, now time.Time) []*core.Alert {
	var alerts []*core.Alert
	for i := range re.rules {
		rule := &re.rules[i]
		if !re.applies(rule, e) {
			continue
		}
		var alert *core.Alert
		switch rule.Mode {
		case ModeSameSource:
			alert = re.evalSameSource(rule, e, now)
		case ModeSameTarget:
			alert = re.evalSameTarget(rule, e, now)
		case ModeSuspiciousService:
			alert = re.evalSuspiciousService(rule, e)
		}
		if alert != nil {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func (re *RuleEngine) applies(rule *Rule, e *core.Event) bool {
	for _, t := range rule.Events {
		if re.typeMatch.matches(e.EventType, t) {
			return true
		}
	}
	return false
}

func (re *RuleEngine) evalSameSource(rule *Rule, e *core.Event, now time.Time) *core.Alert {
	if e.SourceIP == "" {
		return nil
	}
	events := re.index.QueryBySource(e.SourceIP, nil, rule.Window(), now)
	observed := make(map[string]struct{})
	for _, ev := range events {
		observed[ev.EventType] = struct{}{}
	}
	for _, required := range rule.Events {
		found := false
		for t := range observed {
			if re.typeMatch.matches(t, required) {
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}

	alert := re.newRuleAlert(rule, core.AlertTypeRuleMatch, e,
		fmt.Sprintf("Correlation rule '%s' matched: %d events from %s", rule.Name, len(events), e.SourceIP))
	alert.SourceIP = e.SourceIP
	alert.Metadata["matched_events"] = len(events)
	alert.Metadata["matched_event_ids"] = eventIDs(events)
	alert.Metadata["event_types"] = sortedKeys(observed)
	return alert
}

func (re *RuleEngine) evalSameTarget(rule *Rule, e *core.Event, now time.Time) *core.Alert {
	if e.TargetIP == "" {
		return nil
	}
	events := re.index.QueryByTarget(e.TargetIP, nil, rule.Window(), now)
	if len(events) < rule.MinCount {
		return nil
	}
	sources := make(map[string]struct{})
	for _, ev := range events {
		if ev.SourceIP != "" {
			sources[ev.SourceIP] = struct{}{}
		}
	}
	if rule.DifferentSources && len(sources) < rule.UniqueSourcesMin {
		return nil
	}

	alert := re.newRuleAlert(rule, core.AlertTypeRuleMatch, e,
		fmt.Sprintf("Correlation rule '%s' matched: %d events against %s from %d sources",
			rule.Name, len(events), e.TargetIP, len(sources)))
	alert.TargetIP = e.TargetIP
	alert.Metadata["matched_events"] = len(events)
	alert.Metadata["unique_sources"] = len(sources)
	alert.Metadata["source_ips"] = sortedKeys(sources)
	alert.Metadata["matched_event_ids"] = eventIDs(events)
	return alert
}

func (re *RuleEngine) evalSuspiciousService(rule *Rule, e *core.Event) *core.Alert {
	if e.Service == "" {
		return nil
	}
	service := strings.ToLower(e.Service)
	if !slices.Contains(rule.SuspiciousServices, service) {
		return nil
	}

	alert := re.newRuleAlert(rule, core.AlertTypeSuspiciousService, e,
		fmt.Sprintf("Suspicious service '%s' detected on %s:%d", service, e.TargetIP, e.Port))
	alert.SourceIP = e.SourceIP
	alert.TargetIP = e.TargetIP
	alert.Metadata["service"] = service
	alert.Metadata["port"] = e.Port
	return alert
}

func (re *RuleEngine) newRuleAlert(rule *Rule, alertType string, e *core.Event, description string) *core.Alert {
	alert := core.NewAlert(alertType, core.Severity(rule.Severity), e.Timestamp, description)
	alert.RuleName = rule.Name
	alert.Metadata["rule_name"] = rule.Name
	alert.Metadata["time_window"] = rule.TimeWindow
	alert.Metadata["trigger_event_id"] = e.EventID
	return alert
}

func eventIDs(events []*core.Event) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.EventID)
	}
	return ids
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
