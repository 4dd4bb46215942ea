package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hay-kot/weave/internal/commands/doctor"
	"github.com/hay-kot/weave/internal/printer"
)

func TestDoctorReport(t *testing.T) {
	results := []doctor.Result{
		{Name: "Data Directory", Items: []doctor.CheckItem{
			{Label: "/tmp/weave", Status: doctor.StatusWarn, Detail: "does not exist", Fixable: true},
		}},
		{Name: "Listeners", Items: []doctor.CheckItem{
			{Label: "broker 0.0.0.0:11023", Status: doctor.StatusPass, Detail: "available"},
			{Label: "discovery 0.0.0.0:23034", Status: doctor.StatusFail, Detail: "permission denied"},
		}},
	}

	report := newDoctorReport(results)
	assert.False(t, report.Healthy)
	assert.Equal(t, doctorSummary{Passed: 1, Warned: 1, Failed: 1, Fixable: 1}, report.Summary)

	var buf bytes.Buffer
	report.print(printer.New(&buf))

	out := buf.String()
	assert.Contains(t, out, "Listeners\n")
	assert.Contains(t, out, "discovery 0.0.0.0:23034: permission denied")
	assert.Contains(t, out, "Summary: 1 passed, 1 warnings, 1 failed")
	assert.Contains(t, out, "1 issue(s) can be fixed with --fix")
}
