package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hay-kot/weave/internal/store/jsonfile"
)

// DataDirCheck verifies the data directory and the activity journal in it.
type DataDirCheck struct {
	dir string
	fix bool
}

// NewDataDirCheck creates a data directory check. If fix is true, a missing
// directory is created.
func NewDataDirCheck(dir string, fix bool) *DataDirCheck {
	return &DataDirCheck{dir: dir, fix: fix}
}

func (c *DataDirCheck) Name() string {
	return "Data Directory"
}

func (c *DataDirCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	info, err := os.Stat(c.dir)
	switch {
	case os.IsNotExist(err):
		if !c.fix {
			result.Items = append(result.Items, CheckItem{
				Label:   c.dir,
				Status:  StatusWarn,
				Detail:  "does not exist yet",
				Fixable: true,
			})
			return result
		}
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			result.Items = append(result.Items, CheckItem{
				Label:  c.dir,
				Status: StatusFail,
				Detail: fmt.Sprintf("failed to create: %v", err),
			})
			return result
		}
		result.Items = append(result.Items, CheckItem{
			Label:  c.dir,
			Status: StatusPass,
			Detail: "created",
		})
	case err != nil:
		result.Items = append(result.Items, CheckItem{
			Label:  c.dir,
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	case !info.IsDir():
		result.Items = append(result.Items, CheckItem{
			Label:  c.dir,
			Status: StatusFail,
			Detail: "not a directory",
		})
		return result
	default:
		result.Items = append(result.Items, CheckItem{
			Label:  c.dir,
			Status: StatusPass,
		})
	}

	tmp, err := os.CreateTemp(c.dir, ".doctor-*")
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Writable",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}
	_ = tmp.Close()
	_ = os.Remove(filepath.Clean(tmp.Name()))

	store := jsonfile.NewActivityStore(c.dir)
	entries, err := store.List(0)
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Activity journal",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  "Activity journal",
		Status: StatusPass,
		Detail: fmt.Sprintf("%d entries", len(entries)),
	})
	return result
}
