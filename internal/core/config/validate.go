package config

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/hay-kot/criterio"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration.
// Unlike Validate(), this checks file access, listen addresses and the
// seeded applications, reporting every problem as a criterio field error.
func (c *Config) ValidateDeep(configPath string) error {
	var errs criterio.FieldErrorsBuilder

	errs = c.validateFileAccess(errs, configPath)
	errs = c.validateListeners(errs)
	errs = c.validateApps(errs)
	errs = c.validateSynonyms(errs)

	return errs.ToError()
}

// validateFileAccess checks the config file and data directory.
func (c *Config) validateFileAccess(errs criterio.FieldErrorsBuilder, configPath string) criterio.FieldErrorsBuilder {
	if configPath != "" {
		info, err := os.Stat(configPath)
		switch {
		case err == nil && info.IsDir():
			errs = errs.Append("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
		case err != nil && !os.IsNotExist(err):
			errs = errs.Append("config_file", fmt.Errorf("cannot access %s: %w", configPath, err))
		}
	}

	if c.DataDir == "" {
		return errs.Append("data_dir", fmt.Errorf("data directory cannot be empty"))
	}

	info, err := os.Stat(c.DataDir)
	switch {
	case err == nil && !info.IsDir():
		errs = errs.Append("data_dir", fmt.Errorf("%s exists but is not a directory", c.DataDir))
	case err != nil && !os.IsNotExist(err):
		errs = errs.Append("data_dir", fmt.Errorf("cannot access %s: %w", c.DataDir, err))
	}

	return errs
}

// validateListeners checks ports and addresses.
func (c *Config) validateListeners(errs criterio.FieldErrorsBuilder) criterio.FieldErrorsBuilder {
	if err := validPort(c.Broker.Port); err != nil {
		errs = errs.Append("broker.port", err)
	}
	if c.Broker.Bind != "" && net.ParseIP(c.Broker.Bind) == nil {
		errs = errs.Append("broker.bind", fmt.Errorf("%q is not an IP address", c.Broker.Bind))
	}
	if c.Broker.MaxConnections < 0 {
		errs = errs.Append("broker.max_connections", fmt.Errorf("cannot be negative"))
	}
	if c.Broker.MaxLineBytes < 64 {
		errs = errs.Append("broker.max_line_bytes", fmt.Errorf("must be at least 64"))
	}

	if c.Discovery.Enabled {
		if err := validPort(c.Discovery.Port); err != nil {
			errs = errs.Append("discovery.port", err)
		}
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			errs = errs.Append("metrics.addr", fmt.Errorf("invalid address %q: %w", c.Metrics.Addr, err))
		}
	}

	return errs
}

// validateApps checks the seeded system applications.
func (c *Config) validateApps(errs criterio.FieldErrorsBuilder) criterio.FieldErrorsBuilder {
	names := make(map[string]bool, len(c.Apps))
	tokens := make(map[string]bool, len(c.Apps))

	for i, app := range c.Apps {
		field := fmt.Sprintf("apps[%d]", i)

		if app.Name == "" {
			errs = errs.Append(field+".name", fmt.Errorf("name is required"))
		} else if names[app.Name] {
			errs = errs.Append(field+".name", fmt.Errorf("duplicate name %q", app.Name))
		}
		names[app.Name] = true

		if app.Token == "" {
			errs = errs.Append(field+".token", fmt.Errorf("token is required"))
			continue
		}
		if tokens[app.Token] {
			errs = errs.Append(field+".token", fmt.Errorf("token is shared with another app"))
		}
		tokens[app.Token] = true
	}

	return errs
}

// validateSynonyms checks alias targets are channel names.
func (c *Config) validateSynonyms(errs criterio.FieldErrorsBuilder) criterio.FieldErrorsBuilder {
	for _, alias := range sortedKeys(c.Synonyms) {
		field := fmt.Sprintf("synonyms[%s]", alias)
		if strings.Trim(alias, "/") == "" {
			errs = errs.Append(field, fmt.Errorf("alias cannot be empty"))
			continue
		}
		if target := c.Synonyms[alias]; !strings.HasPrefix(target, "/") {
			errs = errs.Append(field, fmt.Errorf("target %q must be an absolute channel name", target))
		}
	}
	return errs
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if len(c.Apps) == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Apps",
			Message:  "No system apps defined; plugins cannot be registered",
		})
	}

	for i, app := range c.Apps {
		if app.Token != "" && len(app.Token) < 16 {
			warnings = append(warnings, ValidationWarning{
				Category: "Apps",
				Item:     fmt.Sprintf("apps[%d]", i),
				Message:  "token is shorter than 16 characters",
			})
		}
	}

	if c.Discovery.Enabled {
		if ip := net.ParseIP(c.Broker.Bind); ip != nil && ip.IsLoopback() {
			warnings = append(warnings, ValidationWarning{
				Category: "Discovery",
				Item:     "broker.bind",
				Message:  "discovery is enabled but the broker only listens on loopback",
			})
		}
	}

	if !c.Activity.Enabled {
		warnings = append(warnings, ValidationWarning{
			Category: "Activity",
			Message:  "activity journal is disabled",
		})
	}

	return warnings
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
