// Package recurring enqueues jobs on cron schedules loaded from a YAML file,
// alongside the delayed-job drain.
package recurring

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Entry is one named item of the schedule file:
//
//	send_digest:
//	  cron: "0 7 * * *"
//	  class: SendDigest
//	  queue: mail
//	  args: {kind: daily}
type Entry struct {
	Name        string         `yaml:"-"`
	Cron        string         `yaml:"cron"`
	Class       string         `yaml:"class"`
	Queue       string         `yaml:"queue"`
	Args        map[string]any `yaml:"args"`
	Description string         `yaml:"description"`

	sched cron.Schedule
	next  time.Time
}

type Schedule struct {
	entries []*Entry
}

func Load(path string) (*Schedule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Schedule, error) {
	var raw map[string]*Entry
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	s := &Schedule{}
	for name, e := range raw {
		if e == nil {
			return nil, fmt.Errorf("schedule %q: empty entry", name)
		}
		e.Name = name
		if e.Class == "" || e.Queue == "" {
			return nil, fmt.Errorf("schedule %q: class and queue are required", name)
		}
		sched, err := cron.ParseStandard(e.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", name, err)
		}
		e.sched = sched
		s.entries = append(s.entries, e)
	}
	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].Name < s.entries[j].Name })
	return s, nil
}

func (s *Schedule) Entries() []*Entry { return s.entries }

// Due returns the entries whose fire time is <= now. Entries stay due until
// Advance is called for them. The first call only arms the entries.
func (s *Schedule) Due(now time.Time) []*Entry {
	var due []*Entry
	for _, e := range s.entries {
		if e.next.IsZero() {
			e.next = e.sched.Next(now)
			continue
		}
		if e.next.After(now) {
			continue
		}
		due = append(due, e)
	}
	return due
}

// Advance moves e to its first fire time after now.
func (e *Entry) Advance(now time.Time) { e.next = e.sched.Next(now) }

// Enqueuer is the subset of the store the runner needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, class string, args map[string]any) error
}

type Runner struct {
	sched *Schedule
	q     Enqueuer
	log   *zap.Logger
}

func NewRunner(sched *Schedule, q Enqueuer, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{sched: sched, q: q, log: log.Named("recurring")}
}

// Run enqueues every entry due at now. An entry only moves to its next fire
// time once its job is queued, so a failed entry is retried on the next run.
// Failures do not stop the remaining entries; they are returned combined.
func (r *Runner) Run(ctx context.Context, now time.Time) (int, error) {
	var (
		n    int
		errs error
	)
	for _, e := range r.sched.Due(now) {
		args := e.Args
		if args == nil {
			args = map[string]any{}
		}
		r.log.Info("queueing scheduled job",
			zap.String("name", e.Name),
			zap.String("queue", e.Queue),
			zap.String("class", e.Class))
		if err := r.q.Enqueue(ctx, e.Queue, e.Class, args); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("enqueue schedule %q: %w", e.Name, err))
			continue
		}
		e.Advance(now)
		n++
	}
	return n, errs
}
