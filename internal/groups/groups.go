// Package groups holds a surface's view of the group mapping and the
// operations that change it. Every applied mutation writes the whole
// mapping back to the store before returning.
package groups

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/storage"
	"github.com/lotas/tabgrouper/internal/types"
)

// ErrNoStore is returned when a repository has no backing store.
var ErrNoStore = errors.New("groups: no store")

// Result is the outcome of a mutation. Everything except Applied is a
// declined request, not a fault.
type Result int

const (
	// Failed means the mutation hit an environment fault; the error says why.
	Failed Result = iota
	Applied
	EmptyName
	NameTooLong
	AlreadyExists
	NotFound
	Duplicate
)

func (r Result) String() string {
	switch r {
	case Failed:
		return "failed"
	case Applied:
		return "applied"
	case EmptyName:
		return "empty name"
	case NameTooLong:
		return "name too long"
	case AlreadyExists:
		return "already exists"
	case NotFound:
		return "not found"
	case Duplicate:
		return "duplicate"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Reason returns the user-facing explanation for a declined result.
func (r Result) Reason() string {
	switch r {
	case Applied:
		return ""
	case EmptyName:
		return "Please enter a group name"
	case NameTooLong:
		return fmt.Sprintf("Group name must be at most %d characters", types.MaxGroupNameLen)
	case AlreadyExists:
		return "Group already exists"
	case NotFound:
		return "Group not found"
	case Duplicate:
		return "Tab already exists in this group"
	}
	return "Failed to save tab groups"
}

// NormalizeName trims surrounding whitespace from a group name.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// ValidateName reports whether name (already normalized) is acceptable for
// a new group, ignoring uniqueness.
func ValidateName(name string) Result {
	switch {
	case name == "":
		return EmptyName
	case utf8.RuneCountInString(name) > types.MaxGroupNameLen:
		return NameTooLong
	}
	return Applied
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock sets the time source used for creation and add timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithRand sets the source used to pick group colors; intn must return a
// value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(r *Repository) { r.intn = intn }
}

// WithKey overrides the record key the mapping is stored under.
func WithKey(key string) Option {
	return func(r *Repository) { r.key = key }
}

// Repository caches the group mapping for one surface.
type Repository struct {
	store storage.Store
	key   string
	now   func() time.Time
	intn  func(int) int

	mu    sync.Mutex
	cache *types.Mapping
	rev   int64
	gen   uint64
}

// New returns a repository over store. The cache starts empty; call
// Refresh to load it.
func New(store storage.Store, opts ...Option) *Repository {
	r := &Repository{
		store: store,
		key:   storage.GroupsKey,
		now:   time.Now,
		intn:  rand.IntN,
		cache: types.NewMapping(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Refresh re-reads the mapping from the store and replaces the cache. A
// missing record is an empty mapping.
func (r *Repository) Refresh(ctx context.Context) error {
	if r.store == nil {
		return ErrNoStore
	}
	rec, ok, err := r.store.Get(ctx, r.key)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	m := types.NewMapping()
	if ok {
		if err := json.Unmarshal(rec.Value, m); err != nil {
			return fmt.Errorf("decode groups: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = m
	if rec.Rev > r.rev {
		r.rev = rec.Rev
	}
	r.gen++
	return nil
}

// Apply replaces the cache from a change notification. Changes for other
// keys and revisions already seen are ignored. It reports whether the
// cache was replaced.
func (r *Repository) Apply(rec storage.Record) bool {
	if rec.Key != r.key {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Rev <= r.rev {
		return false
	}
	m := types.NewMapping()
	if err := json.Unmarshal(rec.Value, m); err != nil {
		applog.Error("groups.apply", err, "rev", rec.Rev)
		return false
	}
	r.cache = m
	r.rev = rec.Rev
	r.gen++
	return true
}

// Generation increases every time the cache changes.
func (r *Repository) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// Rev returns the last store revision reflected in the cache.
func (r *Repository) Rev() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rev
}

// Snapshot returns a deep copy of the cached mapping.
func (r *Repository) Snapshot() *types.Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Clone()
}

// Groups returns copies of all groups in insertion order.
func (r *Repository) Groups() []*types.Group {
	return r.Snapshot().Groups()
}

// Group returns a copy of the named group.
func (r *Repository) Group(name string) (*types.Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.cache.Get(name)
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

// PickColor returns a palette color chosen uniformly at random.
func (r *Repository) PickColor() string {
	return types.Palette[r.intn(len(types.Palette))]
}

// CreateGroup adds an empty group. The name is trimmed first.
func (r *Repository) CreateGroup(ctx context.Context, name string) (Result, error) {
	name = NormalizeName(name)
	return r.mutate(ctx, "create", name, func(m *types.Mapping) Result {
		if res := ValidateName(name); res != Applied {
			return res
		}
		if m.Has(name) {
			return AlreadyExists
		}
		m.Put(&types.Group{
			Name:      name,
			Tabs:      []types.TabRef{},
			CreatedAt: types.Millis(r.now()),
			Color:     r.PickColor(),
		})
		return Applied
	})
}

// AddTab appends tab to the named group unless a tab with the same URL is
// already there.
func (r *Repository) AddTab(ctx context.Context, name string, tab types.TabRef) (Result, error) {
	if tab.AddedAt.IsZero() {
		tab.AddedAt = r.now()
	}
	tab.AddedAt = types.Millis(tab.AddedAt)
	return r.mutate(ctx, "add", name, func(m *types.Mapping) Result {
		g, ok := m.Get(name)
		if !ok {
			return NotFound
		}
		if g.HasURL(tab.URL) {
			return Duplicate
		}
		g.Tabs = append(g.Tabs, tab)
		return Applied
	})
}

// RemoveTab removes the tab at index. A missing group or an index out of
// range changes nothing.
func (r *Repository) RemoveTab(ctx context.Context, name string, index int) (Result, error) {
	return r.mutate(ctx, "remove", name, func(m *types.Mapping) Result {
		g, ok := m.Get(name)
		if !ok || index < 0 || index >= len(g.Tabs) {
			return NotFound
		}
		g.Tabs = append(g.Tabs[:index], g.Tabs[index+1:]...)
		return Applied
	})
}

// DeleteGroup removes the named group. Callers confirm with the user first.
func (r *Repository) DeleteGroup(ctx context.Context, name string) (Result, error) {
	return r.mutate(ctx, "delete", name, func(m *types.Mapping) Result {
		if !m.Delete(name) {
			return NotFound
		}
		return Applied
	})
}

// mutate runs fn against a copy of the cache and, if it applied, writes the
// copy to the store. The cache only moves forward once the write succeeds.
func (r *Repository) mutate(ctx context.Context, op, name string, fn func(*types.Mapping) Result) (Result, error) {
	if r.store == nil {
		return Failed, ErrNoStore
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cache.Clone()
	res := fn(next)
	if res != Applied {
		applog.Debug("groups."+op+".declined", "group", name, "result", res.String())
		return res, nil
	}

	data, err := json.Marshal(next)
	if err != nil {
		return Failed, fmt.Errorf("encode groups: %w", err)
	}
	rev, err := r.store.Put(ctx, r.key, data)
	if err != nil {
		applog.Error("groups."+op, err, "group", name)
		return Failed, fmt.Errorf("save groups: %w", err)
	}

	r.cache = next
	if rev > r.rev {
		r.rev = rev
	}
	r.gen++
	applog.Info("groups."+op, "group", name, "rev", rev)
	return Applied, nil
}
