package config

import (
	"errors"
	"fmt"
	"regexp"

	"filippo.io/age"
	"github.com/ameistad/shipyard/internal/helpers"
	"github.com/go-playground/validator/v10"
)

var envNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks struct constraints and the cross-field rules that tags
// cannot express. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fmt.Errorf("%s: failed '%s' validation", fe.Namespace(), fieldTag(fe)))
		}
	}

	labels := make(map[string]bool, len(c.Probe.Targets))
	for _, t := range c.Probe.Targets {
		if labels[t.Label()] {
			errs = append(errs, fmt.Errorf("probe target %q is defined more than once", t.Label()))
		}
		labels[t.Label()] = true
	}

	for _, name := range c.EnvironmentNames() {
		env := c.Environments[name]
		if err := env.validate(); err != nil {
			errs = append(errs, fmt.Errorf("environment %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func fieldTag(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fe.Tag() + "=" + fe.Param()
	}
	return fe.Tag()
}

func (e Environment) validate() error {
	if !isValidEnvName(e.Name) {
		return fmt.Errorf("invalid name %q: only letters, digits, hyphen and underscore are allowed", e.Name)
	}

	for _, port := range e.Ports {
		if !helpers.IsValidPort(port) {
			return fmt.Errorf("invalid port %d: must be between 1 and 65535", port)
		}
	}

	for _, rule := range e.Secrets {
		if rule.Pattern == "" {
			continue
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("secret %s: invalid pattern: %w", rule.Key, err)
		}
	}

	if e.Proxy.Enabled() {
		if e.Proxy.BackendAddr == "" {
			return fmt.Errorf("proxy.backend_addr is required when proxy.config_path is set")
		}
		if e.Proxy.Container != "" && e.Proxy.ReloadCommand != "" {
			return fmt.Errorf("proxy.container and proxy.reload_command are mutually exclusive")
		}
		for _, domain := range e.Proxy.Domains {
			if err := helpers.IsValidDomain(domain); err != nil {
				return fmt.Errorf("proxy domain %q: %w", domain, err)
			}
		}
	}

	if e.Backup.EncryptTo != "" {
		if _, err := age.ParseX25519Recipient(e.Backup.EncryptTo); err != nil {
			return fmt.Errorf("backup.encrypt_to: %w", err)
		}
	}
	return nil
}

func isValidEnvName(name string) bool {
	return envNamePattern.MatchString(name)
}
