package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/weave/internal/core/config"
)

// ConfigCheck reports on the config file, deep validation and warnings.
type ConfigCheck struct {
	config     *config.Config
	configPath string
}

// NewConfigCheck creates a new configuration check.
func NewConfigCheck(cfg *config.Config, configPath string) *ConfigCheck {
	return &ConfigCheck{
		config:     cfg,
		configPath: configPath,
	}
}

func (c *ConfigCheck) Name() string {
	return "Configuration"
}

func (c *ConfigCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if c.config == nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Config loaded",
			Status: StatusFail,
			Detail: "configuration not loaded",
		})
		return result
	}

	if c.configPath != "" {
		if _, err := os.Stat(c.configPath); os.IsNotExist(err) {
			result.Items = append(result.Items, CheckItem{
				Label:  "Config file",
				Status: StatusWarn,
				Detail: fmt.Sprintf("%s not found, using defaults", c.configPath),
			})
		}
	}

	result.Items = append(result.Items, validationItems(c.config.ValidateDeep(c.configPath))...)

	for _, w := range c.config.Warnings() {
		label := w.Category
		if w.Item != "" {
			label += " (" + w.Item + ")"
		}
		result.Items = append(result.Items, CheckItem{
			Label:  label,
			Status: StatusWarn,
			Detail: w.Message,
		})
	}

	if len(result.Items) == 0 {
		result.Items = append(result.Items, CheckItem{
			Label:  "Config valid",
			Status: StatusPass,
			Detail: fmt.Sprintf("%d system app(s), %d synonym(s)", len(c.config.Apps), len(c.config.Synonyms)),
		})
	}

	return result
}

// validationItems turns a ValidateDeep error into one failed item per field.
func validationItems(err error) []CheckItem {
	if err == nil {
		return nil
	}

	var fieldErrs criterio.FieldErrors
	if !errors.As(err, &fieldErrs) {
		return []CheckItem{{Label: "validation", Status: StatusFail, Detail: err.Error()}}
	}

	items := make([]CheckItem, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		label := fe.Field
		if label == "" {
			label = "validation"
		}
		items = append(items, CheckItem{Label: label, Status: StatusFail, Detail: fe.Err.Error()})
	}
	return items
}
