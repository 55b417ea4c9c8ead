package instance

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// FileStore is the flat tabular instance store: one tab-separated row per
// instance, attribute bags as JSON cells, timestamps at minute resolution.
// The whole table is held in memory and rewritten atomically on mutation;
// a RWMutex serializes access. Behavior matches PgStore exactly.
type FileStore struct {
	path string
	log  *slog.Logger

	mu   sync.RWMutex
	rows map[string]*Instance
}

// NewFileStore creates a FileStore over the given file path. EnsureSchema
// loads (or creates) the backing file.
func NewFileStore(path string, log *slog.Logger) *FileStore {
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{path: path, log: log, rows: make(map[string]*Instance)}
}

var fileHeader = []string{
	"id", "task_id", "task_name", "task_version", "user_id", "status",
	"is_completed", "is_deleted", "predicted", "actual",
	"created_at", "initialized_at", "started_at", "completed_at", "cancelled_at",
	"duration_minutes", "delay_minutes", "relief_score", "cognitive_load",
	"mental_energy_needed", "task_difficulty", "emotional_load", "environmental_effect",
	"procrastination_score", "proactive_score", "behavioral_score", "net_relief",
	"skills_improved",
}

// EnsureSchema creates the backing file with a header row when missing and
// loads existing rows into memory.
func (s *FileStore) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure store dir: %w", err)
	}
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		s.rows = make(map[string]*Instance)
		return s.flushLocked()
	}
	if err != nil {
		return fmt.Errorf("open instance table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	records, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read instance table: %w", err)
	}
	s.rows = make(map[string]*Instance, len(records))
	for i, rec := range records {
		if i == 0 {
			continue // header
		}
		in, err := s.decodeRow(rec)
		if err != nil {
			return fmt.Errorf("decode row %d: %w", i, err)
		}
		s.rows[in.ID] = in
	}
	return nil
}

// Create inserts a new instance.
func (s *FileStore) Create(ctx context.Context, in *Instance) (*Instance, error) {
	if err := normalizeNew(in); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[in.ID]; exists {
		return nil, fmt.Errorf("create instance %s: %w", in.ID, ErrDuplicateID)
	}
	s.rows[in.ID] = in.Clone()
	if err := s.flushLocked(); err != nil {
		return nil, err
	}
	return in, nil
}

// Get retrieves a single instance, scoped to userID when non-empty.
func (s *FileStore) Get(ctx context.Context, id, userID string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.rows[id]
	if !ok || (userID != "" && in.UserID != userID) {
		return nil, fmt.Errorf("get instance %s: %w", id, ErrNotFound)
	}
	return in.Clone(), nil
}

// Update applies a partial update with the same key set PgStore supports.
func (s *FileStore) Update(ctx context.Context, id, userID string, updates map[string]any) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.rows[id]
	if !ok || (userID != "" && in.UserID != userID) {
		return nil, fmt.Errorf("update instance %s: %w", id, ErrNotFound)
	}
	next := in.Clone()
	if err := applyUpdates(next, updates); err != nil {
		return nil, err
	}
	s.rows[id] = next
	if err := s.flushLocked(); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Delete soft-deletes an instance.
func (s *FileStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	in.IsDeleted = true
	return true, s.flushLocked()
}

// Purge physically removes an instance row.
func (s *FileStore) Purge(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return false, nil
	}
	delete(s.rows, id)
	return true, s.flushLocked()
}

// List returns instances matching the filter.
func (s *FileStore) List(ctx context.Context, f Filter) ([]Instance, error) {
	if _, ok := timeFieldCols[f.TimeField]; !ok {
		return nil, fmt.Errorf("%w: unknown time field %q", ErrValidation, f.TimeField)
	}
	switch f.OrderBy {
	case "", "created_at", "completed_at":
	default:
		return nil, fmt.Errorf("%w: unsupported order-by %q", ErrValidation, f.OrderBy)
	}

	s.mu.RLock()
	var out []Instance
	for _, in := range s.rows {
		if matchesFilter(in, f) {
			out = append(out, *in.Clone())
		}
	}
	s.mu.RUnlock()

	if f.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a := orderStamp(&out[i], f.OrderBy)
			b := orderStamp(&out[j], f.OrderBy)
			if f.Descending {
				return b.Before(a)
			}
			return a.Before(b)
		})
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// BulkGet fetches many instances in one pass over the in-memory table.
func (s *FileStore) BulkGet(ctx context.Context, ids []string, userID string) (map[string]*Instance, error) {
	out := make(map[string]*Instance, len(ids))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range ids {
		in, ok := s.rows[id]
		if !ok || (userID != "" && in.UserID != userID) {
			continue
		}
		out[id] = in.Clone()
	}
	return out, nil
}

// applyUpdates mutates an instance the way PgStore's dynamic SET does.
func applyUpdates(in *Instance, updates map[string]any) error {
	setStamp := func(dst **time.Time, v any, key string) error {
		switch tv := v.(type) {
		case nil:
			*dst = nil
		case *time.Time:
			*dst = copyTime(tv)
		case time.Time:
			*dst = &tv
		default:
			return fmt.Errorf("%w: %s update must be a time or nil, got %T", ErrValidation, key, v)
		}
		return nil
	}

	for k, v := range updates {
		switch k {
		case "status":
			switch sv := v.(type) {
			case Status:
				in.Status = sv
			case string:
				in.Status = Status(sv)
			default:
				return fmt.Errorf("%w: status update must be a Status, got %T", ErrValidation, v)
			}
		case "is_completed":
			in.IsCompleted, _ = v.(bool)
		case "is_deleted":
			in.IsDeleted, _ = v.(bool)
		case "skills_improved":
			in.SkillsImproved, _ = v.(string)
		case "predicted", "actual":
			bag, ok := v.(Bag)
			if !ok {
				return fmt.Errorf("%w: %s update must be a Bag, got %T", ErrValidation, k, v)
			}
			if err := bag.Validate(); err != nil {
				return err
			}
			if k == "predicted" {
				if in.Predicted == nil {
					in.Predicted = Bag{}
				}
				in.Predicted.Merge(bag)
			} else {
				if in.Actual == nil {
					in.Actual = Bag{}
				}
				in.Actual.Merge(bag)
			}
		case "initialized_at":
			if err := setStamp(&in.InitializedAt, v, k); err != nil {
				return err
			}
		case "started_at":
			if err := setStamp(&in.StartedAt, v, k); err != nil {
				return err
			}
		case "completed_at":
			if err := setStamp(&in.CompletedAt, v, k); err != nil {
				return err
			}
		case "cancelled_at":
			if err := setStamp(&in.CancelledAt, v, k); err != nil {
				return err
			}
		default:
			if !floatCols[k] {
				return fmt.Errorf("%w: unsupported update key %q", ErrValidation, k)
			}
			fv, ok := toFloat(v)
			if !ok {
				return fmt.Errorf("%w: %s update must be numeric, got %T", ErrValidation, k, v)
			}
			switch k {
			case "duration_minutes":
				in.DurationMinutes = fv
			case "delay_minutes":
				in.DelayMinutes = fv
			case "relief_score":
				in.ReliefScore = fv
			case "cognitive_load":
				in.CognitiveLoad = fv
			case "mental_energy_needed":
				in.MentalEnergyNeeded = fv
			case "task_difficulty":
				in.TaskDifficulty = fv
			case "emotional_load":
				in.EmotionalLoad = fv
			case "environmental_effect":
				in.EnvironmentalEffect = fv
			case "procrastination_score":
				in.ProcrastinationScore = fv
			case "proactive_score":
				in.ProactiveScore = fv
			case "behavioral_score":
				in.BehavioralScore = fv
			case "net_relief":
				in.NetRelief = fv
			}
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch fv := v.(type) {
	case float64:
		return fv, true
	case float32:
		return float64(fv), true
	case int:
		return float64(fv), true
	case int64:
		return float64(fv), true
	default:
		return 0, false
	}
}

func matchesFilter(in *Instance, f Filter) bool {
	if f.UserID != "" && in.UserID != f.UserID {
		return false
	}
	if f.TaskID != "" && in.TaskID != f.TaskID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if in.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.IsCompleted != nil && in.IsCompleted != *f.IsCompleted {
		return false
	}
	if f.IsDeleted != nil && in.IsDeleted != *f.IsDeleted {
		return false
	}
	if f.From != nil || f.To != nil {
		ts := stampField(in, timeFieldCols[f.TimeField])
		if ts == nil {
			return false
		}
		if f.From != nil && ts.Before(*f.From) {
			return false
		}
		if f.To != nil && !ts.Before(*f.To) {
			return false
		}
	}
	return true
}

func stampField(in *Instance, col string) *time.Time {
	switch col {
	case "initialized_at":
		return in.InitializedAt
	case "started_at":
		return in.StartedAt
	case "completed_at":
		return in.CompletedAt
	case "cancelled_at":
		return in.CancelledAt
	default:
		return in.CreatedAt
	}
}

// orderStamp treats missing timestamps as the zero time so ordering is total.
func orderStamp(in *Instance, col string) time.Time {
	ts := stampField(in, col)
	if ts == nil {
		return time.Time{}
	}
	return *ts
}

// flushLocked rewrites the whole table atomically (temp file + rename).
// Caller holds the write lock.
func (s *FileStore) flushLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write instance table: %w", err)
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'

	if err := w.Write(fileHeader); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	ids := make([]string, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids) // stable file contents for diffing and tests
	for _, id := range ids {
		rec, err := encodeRow(s.rows[id])
		if err != nil {
			f.Close()
			return err
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("write row %s: %w", id, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush instance table: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close instance table: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace instance table: %w", err)
	}
	return nil
}

func encodeRow(in *Instance) ([]string, error) {
	predJSON, err := EncodeBag(in.Predicted)
	if err != nil {
		return nil, fmt.Errorf("marshal predicted: %w", err)
	}
	actJSON, err := EncodeBag(in.Actual)
	if err != nil {
		return nil, fmt.Errorf("marshal actual: %w", err)
	}
	ff := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		in.ID, in.TaskID, in.TaskName, strconv.Itoa(in.TaskVersion), in.UserID, string(in.Status),
		strconv.FormatBool(in.IsCompleted), strconv.FormatBool(in.IsDeleted),
		string(predJSON), string(actJSON),
		FormatStamp(in.CreatedAt), FormatStamp(in.InitializedAt), FormatStamp(in.StartedAt),
		FormatStamp(in.CompletedAt), FormatStamp(in.CancelledAt),
		ff(in.DurationMinutes), ff(in.DelayMinutes), ff(in.ReliefScore), ff(in.CognitiveLoad),
		ff(in.MentalEnergyNeeded), ff(in.TaskDifficulty), ff(in.EmotionalLoad),
		ff(in.EnvironmentalEffect), ff(in.ProcrastinationScore), ff(in.ProactiveScore),
		ff(in.BehavioralScore), ff(in.NetRelief), in.SkillsImproved,
	}, nil
}

func (s *FileStore) decodeRow(rec []string) (*Instance, error) {
	if len(rec) != len(fileHeader) {
		return nil, fmt.Errorf("row has %d fields, want %d", len(rec), len(fileHeader))
	}
	in := &Instance{
		ID:       rec[0],
		TaskID:   rec[1],
		TaskName: rec[2],
		UserID:   rec[4],
		Status:   Status(rec[5]),
	}
	var err error
	if in.TaskVersion, err = strconv.Atoi(rec[3]); err != nil {
		return nil, fmt.Errorf("task_version: %w", err)
	}
	in.IsCompleted = rec[6] == "true"
	in.IsDeleted = rec[7] == "true"
	if in.Predicted, err = DecodeBag([]byte(rec[8])); err != nil {
		s.log.Warn("recovered malformed predicted bag", "instance_id", in.ID, "err", err)
	}
	if in.Actual, err = DecodeBag([]byte(rec[9])); err != nil {
		s.log.Warn("recovered malformed actual bag", "instance_id", in.ID, "err", err)
	}
	stamps := []**time.Time{&in.CreatedAt, &in.InitializedAt, &in.StartedAt, &in.CompletedAt, &in.CancelledAt}
	for i, dst := range stamps {
		ts, err := ParseStamp(rec[10+i])
		if err != nil {
			return nil, err
		}
		*dst = ts
	}
	floats := []*float64{
		&in.DurationMinutes, &in.DelayMinutes, &in.ReliefScore, &in.CognitiveLoad,
		&in.MentalEnergyNeeded, &in.TaskDifficulty, &in.EmotionalLoad, &in.EnvironmentalEffect,
		&in.ProcrastinationScore, &in.ProactiveScore, &in.BehavioralScore, &in.NetRelief,
	}
	for i, dst := range floats {
		v, err := strconv.ParseFloat(rec[15+i], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fileHeader[15+i], err)
		}
		*dst = v
	}
	in.SkillsImproved = rec[27]
	return in, nil
}
