package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/hay-kot/weave/internal/core/config"
	"github.com/hay-kot/weave/internal/printer"
)

type ConfigCmd struct {
	flags  *Flags
	format string
	reveal bool
}

// NewConfigCmd creates a new config command.
func NewConfigCmd(flags *Flags) *ConfigCmd {
	return &ConfigCmd{flags: flags}
}

// Register adds the config command to the application.
func (cmd *ConfigCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "weave config validate [options]",
				Description: "Validates the configuration file, checking listeners, apps, synonyms and the data directory.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
				},
				Action: cmd.runValidate,
			},
			{
				Name:      "show",
				Usage:     "Print the effective configuration as YAML",
				UsageText: "weave config show [--reveal]",
				Description: `Prints the configuration after defaults and WEAVE_* environment
overrides are applied. App tokens are redacted unless --reveal is given.`,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "reveal",
						Usage:       "print app tokens in clear text",
						Destination: &cmd.reveal,
					},
				},
				Action: cmd.runShow,
			},
		},
	})

	return app
}

func (cmd *ConfigCmd) runValidate(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	report := newValidationReport(cfg.ValidateDeep(cmd.flags.ConfigPath), cfg.Warnings())

	if cmd.format == "json" {
		return printJSON(c.Root().Writer, report)
	}

	p := printer.Ctx(ctx)
	report.print(p)
	if !report.Valid {
		return cli.Exit("", 1)
	}
	return nil
}

func (cmd *ConfigCmd) runShow(_ context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	out := *cfg
	if !cmd.reveal {
		out.Apps = redactTokens(cfg.Apps)
	}

	enc := yaml.NewEncoder(c.Root().Writer)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func redactTokens(apps []config.App) []config.App {
	out := make([]config.App, len(apps))
	for i, app := range apps {
		if app.Token != "" {
			app.Token = "********"
		}
		out[i] = app
	}
	return out
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validationReport is the outcome of validate in both output formats.
type validationReport struct {
	Valid    bool                       `json:"valid"`
	Errors   []fieldError               `json:"errors,omitempty"`
	Warnings []config.ValidationWarning `json:"warnings,omitempty"`
}

func newValidationReport(err error, warnings []config.ValidationWarning) validationReport {
	report := validationReport{Valid: err == nil, Warnings: warnings}
	if err == nil {
		return report
	}

	var fieldErrs criterio.FieldErrors
	if !errors.As(err, &fieldErrs) {
		fieldErrs = criterio.FieldErrors{{Err: err}}
	}
	for _, fe := range fieldErrs {
		report.Errors = append(report.Errors, fieldError{Field: fe.Field, Message: fe.Err.Error()})
	}
	return report
}

func (r validationReport) print(p *printer.Printer) {
	if len(r.Errors) > 0 {
		p.Section("Errors")
		for _, fe := range r.Errors {
			if fe.Field != "" {
				p.FailItem(fe.Field, fe.Message)
			} else {
				p.FailItem(fe.Message, "")
			}
		}
		p.Printf("")
	}

	if len(r.Warnings) > 0 {
		p.Section("Warnings")
		for _, w := range r.Warnings {
			label := w.Category
			if w.Item != "" {
				label += " (" + w.Item + ")"
			}
			p.WarnItem(label, w.Message)
		}
		p.Printf("")
	}

	switch {
	case !r.Valid:
		p.Errorf("%d error(s), %d warning(s)", len(r.Errors), len(r.Warnings))
	case len(r.Warnings) > 0:
		p.Successf("Configuration is valid (%d warning(s))", len(r.Warnings))
	default:
		p.Successf("Configuration is valid")
	}
}
