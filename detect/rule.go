package detect

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tdrf/core"

	"github.com/go-playground/validator/v10"
)

// RuleMode selects how a correlation rule is evaluated.
type RuleMode string

const (
	ModeSameSource        RuleMode = "same_source"
	ModeSameTarget        RuleMode = "same_target"
	ModeSuspiciousService RuleMode = "suspicious_service"
)

// Rule defaults applied by Normalize.
const (
	DefaultRuleWindowSeconds = 300
	DefaultUniqueSourcesMin  = 2
	DefaultRuleMinCount      = 1
)

// ErrInvalidRule wraps every rule validation failure.
var ErrInvalidRule = errors.New("invalid correlation rule")

var ruleValidator = validator.New()

// Rule is a declarative multi-event correlation pattern.
//
// Mode may be omitted in rule files; it is then derived from the same_source,
// same_target and suspicious_services fields.
type Rule struct {
	Name               string   `yaml:"name" json:"name" mapstructure:"name" validate:"required"`
	Description        string   `yaml:"description,omitempty" json:"description,omitempty" mapstructure:"description"`
	Events             []string `yaml:"events" json:"events" mapstructure:"events" validate:"required,min=1,dive,required"`
	Mode               RuleMode `yaml:"mode,omitempty" json:"mode,omitempty" mapstructure:"mode"`
	SameSource         bool     `yaml:"same_source,omitempty" json:"same_source,omitempty" mapstructure:"same_source"`
	SameTarget         bool     `yaml:"same_target,omitempty" json:"same_target,omitempty" mapstructure:"same_target"`
	DifferentSources   bool     `yaml:"different_sources,omitempty" json:"different_sources,omitempty" mapstructure:"different_sources"`
	MinCount           int      `yaml:"count,omitempty" json:"count,omitempty" mapstructure:"count" validate:"gte=0"`
	UniqueSourcesMin   int      `yaml:"unique_sources_min,omitempty" json:"unique_sources_min,omitempty" mapstructure:"unique_sources_min" validate:"gte=0"`
	TimeWindow         int      `yaml:"time_window,omitempty" json:"time_window,omitempty" mapstructure:"time_window" validate:"gte=0"`
	Severity           string   `yaml:"severity,omitempty" json:"severity,omitempty" mapstructure:"severity"`
	SuspiciousServices []string `yaml:"suspicious_services,omitempty" json:"suspicious_services,omitempty" mapstructure:"suspicious_services"`
}

// EffectiveMode returns Mode, or the mode implied by the legacy flags.
func (r Rule) EffectiveMode() RuleMode {
	switch {
	case r.Mode != "":
		return r.Mode
	case r.SameSource:
		return ModeSameSource
	case r.SameTarget:
		return ModeSameTarget
	case len(r.SuspiciousServices) > 0:
		return ModeSuspiciousService
	default:
		return ""
	}
}

// Window returns the rule's time window as a duration.
func (r Rule) Window() time.Duration {
	return time.Duration(r.TimeWindow) * time.Second
}

// Normalize returns a copy of r with mode derived and defaults filled in.
// Slices are copied so the result shares no state with r.
func (r Rule) Normalize() Rule {
	n := r
	n.Mode = r.EffectiveMode()
	n.Events = append([]string(nil), r.Events...)
	n.SuspiciousServices = make([]string, len(r.SuspiciousServices))
	for i, s := range r.SuspiciousServices {
		n.SuspiciousServices[i] = strings.ToLower(s)
	}
	if n.TimeWindow <= 0 {
		n.TimeWindow = DefaultRuleWindowSeconds
	}
	if n.MinCount <= 0 {
		n.MinCount = DefaultRuleMinCount
	}
	if n.UniqueSourcesMin <= 0 {
		n.UniqueSourcesMin = DefaultUniqueSourcesMin
	}
	if sev, err := core.ParseSeverity(n.Severity); err == nil {
		n.Severity = string(sev)
	} else {
		n.Severity = string(core.SeverityMedium)
	}
	return n
}

// Validate checks field constraints and that the mode is one the engine can
// evaluate.
func (r Rule) Validate() error {
	if err := ruleValidator.Struct(r); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidRule, r.Name, err)
	}
	switch r.EffectiveMode() {
	case ModeSameSource, ModeSameTarget:
	case ModeSuspiciousService:
		if len(r.SuspiciousServices) == 0 {
			return fmt.Errorf("%w %q: suspicious_service mode needs suspicious_services", ErrInvalidRule, r.Name)
		}
	case "":
		return fmt.Errorf("%w %q: no mode given", ErrInvalidRule, r.Name)
	default:
		return fmt.Errorf("%w %q: unknown mode %q", ErrInvalidRule, r.Name, r.Mode)
	}
	if r.Severity != "" {
		if _, err := core.ParseSeverity(r.Severity); err != nil {
			return fmt.Errorf("%w %q: %v", ErrInvalidRule, r.Name, err)
		}
	}
	return nil
}

func (r Rule) clone() Rule {
	c := r
	c.Events = append([]string(nil), r.Events...)
	c.SuspiciousServices = append([]string(nil), r.SuspiciousServices...)
	return c
}

// DefaultRules returns the built-in rule set used when none is configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "Reconnaissance and Attack",
			Description: "Port scan followed by failed logins from the same source",
			Events:      []string{"port_scan", "failed_login"},
			Mode:        ModeSameSource,
			TimeWindow:  1800,
			Severity:    string(core.SeverityHigh),
		},
		{
			Name:             "Distributed Brute-Force",
			Description:      "Failed logins against one target from many sources",
			Events:           []string{"failed_login"},
			Mode:             ModeSameTarget,
			DifferentSources: true,
			MinCount:         10,
			TimeWindow:       300,
			Severity:         string(core.SeverityCritical),
		},
		{
			Name:               "Suspicious Service Access",
			Description:        "Cleartext or commonly abused service discovered",
			Events:             []string{"port_scan", "service_banner"},
			Mode:               ModeSuspiciousService,
			SuspiciousServices: []string{"telnet", "ftp", "smb"},
			Severity:           string(core.SeverityMedium),
		},
	}
}
