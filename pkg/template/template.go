package template

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Type is the activity type tag of a template. It drives the productivity
// multiplier family.
type Type string

const (
	Work     Type = "Work"
	Play     Type = "Play"
	SelfCare Type = "SelfCare"
)

var ErrNotFound = errors.New("template not found")
var ErrValidation = errors.New("validation failed")

// Template is the reusable definition instances are created from. The
// registry owns these records; lifecycle code reads them at creation time
// and snapshots name+version onto the instance.
type Template struct {
	ID                     string  `json:"id"`
	Name                   string  `json:"name"`
	Version                int     `json:"version"`
	Type                   Type    `json:"type"`
	DefaultEstimateMinutes float64 `json:"default_estimate_minutes"`
	RoutineTime            string  `json:"routine_time"` // "HH:MM", empty for one-off templates
	RoutineWeekdays        []string `json:"routine_weekdays"`
	CreatedAt              time.Time `json:"created_at"`
}

// RoutineAt parses the routine time-of-day. Empty means the template is not
// routine-scheduled. An unparsable value is a validation error.
func (t *Template) RoutineAt() (hour, minute int, ok bool, err error) {
	if t.RoutineTime == "" {
		return 0, 0, false, nil
	}
	parsed, perr := time.Parse("15:04", t.RoutineTime)
	if perr != nil {
		return 0, 0, false, fmt.Errorf("%w: unparsable routine time %q", ErrValidation, t.RoutineTime)
	}
	return parsed.Hour(), parsed.Minute(), true, nil
}

// Registry is the read-only contract the core consumes. The registry itself
// is an external collaborator; only lookups happen here.
type Registry interface {
	Get(ctx context.Context, id string) (*Template, error)
	List(ctx context.Context) ([]Template, error)
}
