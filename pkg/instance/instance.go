package instance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the stored lifecycle status of an instance.
type Status string

const (
	StatusCreated   Status = "created"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal one.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Well-known attribute bag keys. Bags stay open for forward compatibility;
// these are the keys the lifecycle and metrics code reads and writes.
const (
	KeyTimeEstimate    = "time_estimate_minutes"
	KeyTimeActual      = "time_actual_minutes"
	KeyAccrued         = "time_spent_before_pause"
	KeyCompletionPct   = "completion_pct"
	KeyPauseReason     = "pause_reason"
	KeyCancelReason    = "cancel_reason"
	KeyReliefExpected  = "relief_expected"
	KeyReliefActual    = "relief_actual"
	KeyAversion        = "aversion"
	KeyCognitiveLoad   = "cognitive_load"
	KeyEmotionalLoad   = "emotional_load"
	KeyPhysicalLoad    = "physical_load"
	KeyMotivation      = "motivation"
	KeyStressLevel     = "stress_level"
	KeySkillsImproved  = "skills_improved"
	KeyNoSliderInput   = "no_slider_input_count"
)

// Instance is one concrete execution record of a task template.
// task_name and task_version are snapshots taken at creation time and are
// never updated afterwards. user_id is empty only for pre-migration legacy
// rows; every scoped read and write passes it explicitly.
type Instance struct {
	ID          string `json:"instance_id"`
	TaskID      string `json:"task_id"`
	TaskName    string `json:"task_name"`
	TaskVersion int    `json:"task_version"`
	UserID      string `json:"user_id"`

	Status      Status `json:"status"`
	IsCompleted bool   `json:"is_completed"`
	IsDeleted   bool   `json:"is_deleted"`

	Predicted Bag `json:"predicted"`
	Actual    Bag `json:"actual"`

	CreatedAt     *time.Time `json:"created_at,omitempty"`
	InitializedAt *time.Time `json:"initialized_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`

	// Derived scalars, written once at completion time.
	DurationMinutes      float64 `json:"duration_minutes"`
	DelayMinutes         float64 `json:"delay_minutes"`
	ReliefScore          float64 `json:"relief_score"`
	CognitiveLoad        float64 `json:"cognitive_load"`
	MentalEnergyNeeded   float64 `json:"mental_energy_needed"`
	TaskDifficulty       float64 `json:"task_difficulty"`
	EmotionalLoad        float64 `json:"emotional_load"`
	EnvironmentalEffect  float64 `json:"environmental_effect"`
	ProcrastinationScore float64 `json:"procrastination_score"`
	ProactiveScore       float64 `json:"proactive_score"`
	BehavioralScore      float64 `json:"behavioral_score"`
	NetRelief            float64 `json:"net_relief"`
	SkillsImproved       string  `json:"skills_improved"`
}

// Terminal reports whether the instance admits no further lifecycle
// transitions. Deletion is orthogonal to status but equally final.
func (in *Instance) Terminal() bool {
	return in.IsCompleted || in.IsDeleted || in.Status.Terminal()
}

// AccruedMinutes returns the active time accumulated across closed
// start->pause/complete intervals so far.
func (in *Instance) AccruedMinutes() float64 {
	return in.Actual.Float(KeyAccrued)
}

// Clone returns a deep copy. Stores hand out clones so callers can't alias
// internal state.
func (in *Instance) Clone() *Instance {
	cp := *in
	cp.Predicted = in.Predicted.Clone()
	cp.Actual = in.Actual.Clone()
	cp.CreatedAt = copyTime(in.CreatedAt)
	cp.InitializedAt = copyTime(in.InitializedAt)
	cp.StartedAt = copyTime(in.StartedAt)
	cp.CompletedAt = copyTime(in.CompletedAt)
	cp.CancelledAt = copyTime(in.CancelledAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

var (
	ErrNotFound    = errors.New("instance not found")
	ErrDuplicateID = errors.New("duplicate instance id")
	ErrValidation  = errors.New("validation failed")
)

// normalizeNew fills creation-time defaults and validates the bags. Both
// backends call this so a freshly created instance looks identical
// regardless of storage engine.
func normalizeNew(in *Instance) error {
	if in.ID == "" {
		in.ID = uuid.Must(uuid.NewV7()).String()
	}
	if in.Status == "" {
		in.Status = StatusCreated
	}
	if in.Predicted == nil {
		in.Predicted = Bag{}
	}
	if in.Actual == nil {
		in.Actual = Bag{}
	}
	if err := in.Predicted.Validate(); err != nil {
		return err
	}
	if err := in.Actual.Validate(); err != nil {
		return err
	}
	if in.CreatedAt == nil {
		now := time.Now().Truncate(time.Microsecond)
		in.CreatedAt = &now
	}
	return nil
}

// Filter selects instances in Store.List. Zero values mean "don't filter".
// The date range applies to TimeField (created_at when empty).
type Filter struct {
	UserID      string
	TaskID      string
	Statuses    []Status
	IsCompleted *bool
	IsDeleted   *bool
	TimeField   string
	From        *time.Time
	To          *time.Time
	OrderBy     string // "created_at" or "completed_at"; empty = unspecified
	Descending  bool
	Limit       int
}

// Store is the contract for instance persistence. Two interchangeable
// backends exist (PostgreSQL and a flat tabular file); callers hold only
// this interface and must observe identical behavior from both.
//
// userID arguments scope the operation to that owner. An empty userID is
// permitted only for trusted background contexts and disables the scoping.
type Store interface {
	// Create inserts a new instance, generating an ID when unset.
	// Returns ErrDuplicateID when the id is already present.
	Create(ctx context.Context, in *Instance) (*Instance, error)

	// Get returns one instance or ErrNotFound.
	Get(ctx context.Context, id, userID string) (*Instance, error)

	// Update applies a partial update. Supported keys: status, is_completed,
	// is_deleted, predicted, actual, initialized_at, started_at,
	// completed_at, cancelled_at, and the derived scalar columns. Bag values
	// are merged key-by-key, never replaced; a nil timestamp clears the
	// column. Returns the updated instance or ErrNotFound.
	Update(ctx context.Context, id, userID string, updates map[string]any) (*Instance, error)

	// Delete soft-deletes (flag flip). Returns false when the id is unknown.
	Delete(ctx context.Context, id string) (bool, error)

	// Purge physically removes a row. Explicit escape hatch for retention
	// tooling; normal deletion goes through Delete.
	Purge(ctx context.Context, id string) (bool, error)

	// List returns instances matching the filter. Ordering is unspecified
	// unless the filter requests it.
	List(ctx context.Context, f Filter) ([]Instance, error)

	// BulkGet fetches many instances in a single batched read. Unknown ids
	// are absent from the result, not errors.
	BulkGet(ctx context.Context, ids []string, userID string) (map[string]*Instance, error)

	// EnsureSchema creates backing storage if it doesn't exist.
	EnsureSchema(ctx context.Context) error
}
