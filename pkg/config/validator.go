package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ConfigValidator struct {
	validate *validator.Validate
}

func NewValidator() *ConfigValidator {
	return &ConfigValidator{
		validate: validator.New(),
	}
}

// Validate runs the struct tag rules and then the cross-section rules.
func (cv *ConfigValidator) Validate(cfg *ServiceConfig) error {
	if err := cv.validate.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			var errMsgs []string
			for _, e := range validationErrors {
				errMsgs = append(errMsgs, fmt.Sprintf("field '%s' failed rule '%s'", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("config: invalid structure:\n- %s", strings.Join(errMsgs, "\n- "))
		}
		return fmt.Errorf("config: invalid structure: %w", err)
	}

	if err := cv.validateSemantics(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return nil
}

func (cv *ConfigValidator) validateSemantics(cfg *ServiceConfig) error {
	seen := make(map[string]string)
	names := cfg.Tables.Names
	for field, name := range map[string]string{
		"users":          names.Users,
		"gifts":          names.Gifts,
		"subscriptions":  names.Subscriptions,
		"payments":       names.Payments,
		"newsletter":     names.Newsletter,
		"email_tracking": names.EmailTracking,
	} {
		if other, dup := seen[name]; dup {
			return fmt.Errorf("tables %s and %s share the name %q", other, field, name)
		}
		seen[name] = field
	}

	if cfg.Session.DevBypass && cfg.Service.Runtime != RuntimeLocal {
		return fmt.Errorf("session.dev_bypass is only allowed with the %s runtime", RuntimeLocal)
	}
	return nil
}
