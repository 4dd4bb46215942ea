package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/weave/internal/commands/doctor"
	"github.com/hay-kot/weave/internal/printer"
)

type DoctorCmd struct {
	flags  *Flags
	format string
	fix    bool
}

func NewDoctorCmd(flags *Flags) *DoctorCmd {
	return &DoctorCmd{flags: flags}
}

func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "doctor",
		Usage:       "Run health checks on your weave setup",
		UsageText:   "weave doctor [options]",
		Description: "Runs diagnostic checks on the configuration, the data directory and the listen addresses.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
			&cli.BoolFlag{
				Name:        "fix",
				Usage:       "repair fixable issues",
				Destination: &cmd.fix,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	checks := []doctor.Check{
		doctor.NewConfigCheck(cmd.flags.Config, cmd.flags.ConfigPath),
	}

	if cfg := cmd.flags.Config; cfg != nil {
		discoveryAddr := ""
		if cfg.Discovery.Enabled {
			discoveryAddr = cfg.DiscoveryAddr()
		}
		checks = append(checks,
			doctor.NewDataDirCheck(cfg.DataDir, cmd.fix),
			doctor.NewListenerCheck(cfg.BrokerAddr(), discoveryAddr),
		)
	}

	report := newDoctorReport(doctor.RunAll(ctx, checks))

	if cmd.format == "json" {
		if err := printJSON(c.Root().Writer, report); err != nil {
			return err
		}
	} else {
		report.print(printer.Ctx(ctx))
	}

	if !report.Healthy {
		return cli.Exit("", 1)
	}
	return nil
}

type doctorSummary struct {
	Passed  int `json:"passed"`
	Warned  int `json:"warned"`
	Failed  int `json:"failed"`
	Fixable int `json:"fixable"`
}

// doctorReport is the outcome of a doctor run in both output formats.
type doctorReport struct {
	Healthy bool            `json:"healthy"`
	Summary doctorSummary   `json:"summary"`
	Checks  []doctor.Result `json:"checks"`
}

func newDoctorReport(results []doctor.Result) doctorReport {
	passed, warned, failed := doctor.Summary(results)
	return doctorReport{
		Healthy: failed == 0,
		Summary: doctorSummary{
			Passed:  passed,
			Warned:  warned,
			Failed:  failed,
			Fixable: doctor.CountFixable(results),
		},
		Checks: results,
	}
}

func (r doctorReport) print(p *printer.Printer) {
	for _, result := range r.Checks {
		p.Section(result.Name)
		for _, item := range result.Items {
			switch item.Status {
			case doctor.StatusPass:
				p.CheckItem(item.Label, item.Detail)
			case doctor.StatusWarn:
				p.WarnItem(item.Label, item.Detail)
			default:
				p.FailItem(item.Label, item.Detail)
			}
		}
		p.Printf("")
	}

	s := r.Summary
	p.Printf("Summary: %d passed, %d warnings, %d failed", s.Passed, s.Warned, s.Failed)
	if s.Fixable > 0 {
		p.Infof("%d issue(s) can be fixed with --fix", s.Fixable)
	}
}
