package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if c.Control.RateBurst == 0 && c.Control.RateLimit > 0 {
		return fmt.Errorf("control.rate_burst must be positive when control.rate_limit is set")
	}
	if c.Logger.Level == "" {
		return fmt.Errorf("logger.level is required")
	}

	for i, r := range c.Routes {
		if r.Match == "regexp" {
			if _, err := regexp.Compile(r.Pattern); err != nil {
				return fmt.Errorf("routes[%d]: invalid pattern %q: %w", i, r.Pattern, err)
			}
		}
		if r.NetworkTimeout > 0 && r.Strategy != "network-first" {
			return fmt.Errorf("routes[%d]: network_timeout requires the network-first strategy", i)
		}
	}
	for _, p := range c.Precache.IgnoreURLParameters {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("precache.ignore_url_parameters: invalid pattern %q: %w", p, err)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
