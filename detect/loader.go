package detect

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed rules_schema.json
var rulesSchemaJSON []byte

var (
	rulesSchemaOnce sync.Once
	rulesSchema     *gojsonschema.Schema
	rulesSchemaErr  error
)

// RuleSet is the top-level document of a rules file.
type RuleSet struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Rule file formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

func compiledRulesSchema() (*gojsonschema.Schema, error) {
	rulesSchemaOnce.Do(func() {
		rulesSchema, rulesSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(rulesSchemaJSON))
	})
	return rulesSchema, rulesSchemaErr
}

// FormatFromPath picks the rule file format from the file extension.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadRulesFile reads, schema-checks and decodes a YAML or JSON rules file.
func LoadRulesFile(path string, logger *zap.SugaredLogger) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	rules, err := ParseRules(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if logger != nil {
		logger.Infof("Loaded %d correlation rules from %s", len(rules), path)
	}
	return rules, nil
}

// ParseRules decodes a rules document. The document is validated against the
// embedded JSON schema before decoding, and every rule is validated after.
func ParseRules(data []byte, format string) ([]Rule, error) {
	var doc interface{}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("unsupported rules format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	if err := validateRulesDocument(doc); err != nil {
		return nil, err
	}

	var set RuleSet
	if format == FormatYAML {
		err = yaml.Unmarshal(data, &set)
	} else {
		err = json.Unmarshal(data, &set)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}

	var errs []error
	for _, r := range set.Rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return set.Rules, nil
}

func validateRulesDocument(doc interface{}) error {
	schema, err := compiledRulesSchema()
	if err != nil {
		return fmt.Errorf("failed to compile rules schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate rules against schema: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(msgs, "; "))
	}
	return nil
}

// MarshalRules encodes rules in the given format.
func MarshalRules(rules []Rule, format string) ([]byte, error) {
	set := RuleSet{Rules: rules}
	switch format {
	case FormatYAML:
		return yaml.Marshal(set)
	case FormatJSON:
		return json.MarshalIndent(set, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported rules format %q", format)
	}
}
