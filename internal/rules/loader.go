package rules

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cdpintercept/internal/interception"
	"cdpintercept/pkg/rulespec"
)

// LoadFile 读取并校验 YAML 规则文件
func LoadFile(path string) (*rulespec.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %q: %w", path, err)
	}
	var cfg rulespec.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid rules %q: %w", path, err)
	}
	return &cfg, nil
}

// Validate 校验规则集
func Validate(cfg *rulespec.Config) error {
	if cfg == nil {
		return errors.New("nil rules config")
	}
	var errs []error
	seen := make(map[rulespec.RuleID]struct{}, len(cfg.Rules))
	for i := range cfg.Rules {
		r := &cfg.Rules[i]
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("rule #%d: empty id", i))
			continue
		}
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("rule %s: duplicate id", r.ID))
		}
		seen[r.ID] = struct{}{}

		switch r.Action.Type {
		case rulespec.ActionContinue, rulespec.ActionRespond:
		case rulespec.ActionAbort:
			if _, ok := interception.ErrorReasonFor(r.Action.ErrorCode); !ok {
				errs = append(errs, fmt.Errorf("rule %s: %w: %q", r.ID, interception.ErrUnknownErrorCode, r.Action.ErrorCode))
			}
		case rulespec.ActionPause:
			if r.Action.TimeoutMS < 0 {
				errs = append(errs, fmt.Errorf("rule %s: pause timeout must be >= 0", r.ID))
			}
			switch r.Action.DefaultAction {
			case "", rulespec.ActionContinue:
			case rulespec.ActionAbort:
				if _, ok := interception.ErrorReasonFor(r.Action.ErrorCode); !ok {
					errs = append(errs, fmt.Errorf("rule %s: %w: %q", r.ID, interception.ErrUnknownErrorCode, r.Action.ErrorCode))
				}
			default:
				errs = append(errs, fmt.Errorf("rule %s: unknown pause default action %q", r.ID, r.Action.DefaultAction))
			}
		default:
			errs = append(errs, fmt.Errorf("rule %s: unknown action type %q", r.ID, r.Action.Type))
		}

		for _, group := range [][]rulespec.Condition{r.Match.AllOf, r.Match.AnyOf, r.Match.NoneOf} {
			for _, c := range group {
				if err := validateCondition(c); err != nil {
					errs = append(errs, fmt.Errorf("rule %s: %w", r.ID, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func validateCondition(c rulespec.Condition) error {
	switch c.Type {
	case rulespec.ConditionURL:
		if c.Mode == "regex" {
			if _, err := regexCache.Get(c.Pattern); err != nil {
				return fmt.Errorf("url regex %q: %w", c.Pattern, err)
			}
		}
	case rulespec.ConditionMethod, rulespec.ConditionResourceType, rulespec.ConditionNavigation,
		rulespec.ConditionText:
	case rulespec.ConditionHeader, rulespec.ConditionQuery, rulespec.ConditionCookie:
		if c.Key == "" {
			return fmt.Errorf("%s condition requires key", c.Type)
		}
	case rulespec.ConditionJSON:
		if c.Path == "" {
			return errors.New("json condition requires path")
		}
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	if c.Op == "regex" {
		if _, err := regexCache.Get(c.Value); err != nil {
			return fmt.Errorf("regex %q: %w", c.Value, err)
		}
	}
	return nil
}
