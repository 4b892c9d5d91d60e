// Package doctor implements the health-check surface: a set of named
// checks, each with a Run/Fix pair, driving `v0 doctor [--fix]`. Concrete
// checks embed BaseCheck and construct via a NewXCheck() constructor; Run
// returns *CheckResult and an optional Fix(ctx) error repairs what it found.
package doctor

import "fmt"

// Status is a check's outcome.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Category groups related checks for reporting.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryWorkspace Category = "workspace"
	CategoryQueue     Category = "queue"
	CategoryDaemon    Category = "daemon"
	CategoryCleanup   Category = "cleanup"
)

// CheckContext carries the shared, read-only context every check needs.
type CheckContext struct {
	ProjectRoot  string
	MainRepoRoot string
}

// CheckResult is one check's outcome.
type CheckResult struct {
	Name    string
	Status  Status
	Message string
	CanFix  bool
}

// BaseCheck holds the identity fields every concrete check embeds.
type BaseCheck struct {
	CheckName        string
	CheckDescription string
	CheckCategory    Category
}

// Name returns the check's identifier.
func (b BaseCheck) Name() string { return b.CheckName }

// Description returns the check's human-readable description.
func (b BaseCheck) Description() string { return b.CheckDescription }

// Category returns the check's grouping category.
func (b BaseCheck) Category() Category { return b.CheckCategory }

// Check is one health check: identity plus a Run, with an optional Fix.
type Check interface {
	Name() string
	Description() string
	Category() Category
	Run(ctx *CheckContext) *CheckResult
}

// Fixable is implemented by checks that can repair what they find wrong.
type Fixable interface {
	Fix(ctx *CheckContext) error
}

// Report is the full outcome of one doctor run.
type Report struct {
	Results []*CheckResult
}

// Summary renders a one-line-per-check human summary.
func (r *Report) Summary() string {
	s := ""
	for _, res := range r.Results {
		s += fmt.Sprintf("[%s] %s: %s\n", res.Status, res.Name, res.Message)
	}
	return s
}

// HasErrors reports whether any check returned StatusError.
func (r *Report) HasErrors() bool {
	for _, res := range r.Results {
		if res.Status == StatusError {
			return true
		}
	}
	return false
}

// Run executes every check, optionally applying Fix to any check whose
// result reports CanFix when fix is true.
func Run(ctx *CheckContext, checks []Check, fix bool) *Report {
	report := &Report{}
	for _, c := range checks {
		result := c.Run(ctx)
		report.Results = append(report.Results, result)

		if fix && result.CanFix && result.Status != StatusOK {
			if fixable, ok := c.(Fixable); ok {
				if err := fixable.Fix(ctx); err != nil {
					result.Message += fmt.Sprintf(" (fix failed: %v)", err)
					continue
				}
				fixed := c.Run(ctx)
				report.Results[len(report.Results)-1] = fixed
			}
		}
	}
	return report
}
