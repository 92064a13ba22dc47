package negation

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Action string

const (
	// ActionNegate opens a negation scope running to the end of the sentence.
	ActionNegate Action = "negate"
	// ActionTerminate closes any open scope for the rest of the sentence.
	ActionTerminate Action = "terminate"
	// ActionPseudo consumes a phrase that looks like a cue but is not one.
	ActionPseudo Action = "pseudo"
)

type Rule struct {
	Phrase string `yaml:"phrase"`
	Action Action `yaml:"action"`
}

type RulesConfig struct {
	Rules []Rule `yaml:"rules"`
}

func DefaultRules() RulesConfig {
	var rules []Rule
	for _, p := range []string{
		"no", "not", "denies", "denied", "deny", "without", "never",
		"negative for", "ruled out", "free of", "absence of", "no evidence of",
		"hasn't", "hadn't", "wasn't", "weren't", "isn't", "doesn't", "didn't",
	} {
		rules = append(rules, Rule{Phrase: p, Action: ActionNegate})
	}
	for _, p := range []string{
		"but", "however", "nevertheless", "yet", "although", "though",
		"except", "aside from", "apart from",
	} {
		rules = append(rules, Rule{Phrase: p, Action: ActionTerminate})
	}
	for _, p := range []string{
		"no increase", "no change", "not only", "not necessarily", "no further",
	} {
		rules = append(rules, Rule{Phrase: p, Action: ActionPseudo})
	}
	return RulesConfig{Rules: rules}
}

func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return RulesConfig{}, err
	}
	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, err
	}
	if len(cfg.Rules) == 0 {
		return RulesConfig{}, fmt.Errorf("negation rules empty")
	}
	return cfg, nil
}

func (a Action) valid() bool {
	switch a {
	case ActionNegate, ActionTerminate, ActionPseudo:
		return true
	}
	return false
}
