// Package bridge exposes the supervisory state and the controller settings by name, so a host can
// inspect and tune the rig while the control loop runs. Values written through the bridge are
// converted with cast, so "1.5", 1.5 and float32(1.5) all set a gain.
package bridge

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cast"

	"go.viam.com/edukit/control"
	"go.viam.com/edukit/logging"
	"go.viam.com/edukit/supervisory"
)

// ErrReadOnly is returned when setting a value that can only be read.
var ErrReadOnly = errors.New("value is read-only")

// Encoder is the part of the encoder the bridge exposes.
type Encoder interface {
	Position() int64
	SetPosition(value int64)
}

// Deps are the values a Table reads and writes. Encoder may be nil.
type Deps struct {
	State      *supervisory.State
	PID        *control.PID2
	PID1       *control.PID
	StateSpace *control.StateSpace
	Encoder    Encoder
}

type hook struct {
	get func() (interface{}, error)
	set func(value interface{}) error
}

// Table maps names to getters and setters.
type Table struct {
	deps Deps

	mu    sync.RWMutex
	hooks map[string]hook
}

// NewTable registers every hook over deps.
func NewTable(deps Deps) (*Table, error) {
	if deps.State == nil || deps.PID == nil || deps.PID1 == nil || deps.StateSpace == nil {
		return nil, errors.New("bridge needs the supervisory state and every controller")
	}
	t := &Table{deps: deps, hooks: map[string]hook{}}
	t.registerSupervisory()
	t.registerExcitation("reference", deps.State.Reference)
	t.registerExcitation("control", deps.State.Control)
	t.registerPID()
	t.registerPID1()
	t.registerStateSpace()
	if deps.Encoder != nil {
		t.register("encoder_position", int64Hook(deps.Encoder.Position, deps.Encoder.SetPosition))
	}
	t.register("loggers", readOnly(func() interface{} { return logging.GetRegisteredLoggerNames() }))
	return t, nil
}

func (t *Table) register(name string, h hook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks[name] = h
}

func (t *Table) lookup(name string) (hook, error) {
	name = strings.ToLower(name)
	if loggerName, ok := strings.CutPrefix(name, logLevelPrefix); ok {
		return logLevelHook(loggerName)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.hooks[name]
	if !ok {
		return hook{}, errors.Errorf("unknown name %q", name)
	}
	return h, nil
}

// Get returns the current value of name.
func (t *Table) Get(name string) (interface{}, error) {
	h, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	return h.get()
}

// Set converts value to the type of name and writes it.
func (t *Table) Set(name string, value interface{}) error {
	h, err := t.lookup(name)
	if err != nil {
		return err
	}
	if h.set == nil {
		return errors.Wrap(ErrReadOnly, name)
	}
	return errors.Wrapf(h.set(value), "cannot set %s", name)
}

// Names returns every registered name, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	names := lo.Keys(t.hooks)
	t.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Writable returns the names that can be set, sorted.
func (t *Table) Writable() []string {
	return lo.Filter(t.Names(), func(name string, _ int) bool {
		h, err := t.lookup(name)
		return err == nil && h.set != nil
	})
}

// Snapshot reads every scalar value, leaving out the capture buffers and sequences.
func (t *Table) Snapshot() (map[string]interface{}, error) {
	names := lo.Reject(t.Names(), func(name string, _ int) bool {
		return strings.HasSuffix(name, "_data") || strings.HasSuffix(name, "_sequence")
	})
	snapshot := make(map[string]interface{}, len(names))
	for _, name := range names {
		value, err := t.Get(name)
		if err != nil {
			return nil, errors.Wrap(err, name)
		}
		snapshot[name] = value
	}
	return snapshot, nil
}

func readOnly(get func() interface{}) hook {
	return hook{get: func() (interface{}, error) { return get(), nil }}
}

func boolHook(get func() bool, set func(bool)) hook {
	return hook{
		get: func() (interface{}, error) { return get(), nil },
		set: func(value interface{}) error {
			v, err := cast.ToBoolE(value)
			if err != nil {
				return err
			}
			set(v)
			return nil
		},
	}
}

func floatHook(get func() float64, set func(float64) error) hook {
	return hook{
		get: func() (interface{}, error) { return get(), nil },
		set: func(value interface{}) error {
			v, err := cast.ToFloat64E(value)
			if err != nil {
				return err
			}
			return set(v)
		},
	}
}

func intHook(get func() int, set func(int) error) hook {
	return hook{
		get: func() (interface{}, error) { return get(), nil },
		set: func(value interface{}) error {
			v, err := cast.ToIntE(value)
			if err != nil {
				return err
			}
			return set(v)
		},
	}
}

func int64Hook(get func() int64, set func(int64)) hook {
	return hook{
		get: func() (interface{}, error) { return get(), nil },
		set: func(value interface{}) error {
			v, err := cast.ToInt64E(value)
			if err != nil {
				return err
			}
			set(v)
			return nil
		},
	}
}

// toFloat32Slice accepts any slice or array of values cast can turn into numbers.
func toFloat32Slice(value interface{}) ([]float32, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, errors.Errorf("expected a list of numbers, got %T", value)
	}
	out := make([]float32, rv.Len())
	for i := range out {
		v, err := cast.ToFloat32E(rv.Index(i).Interface())
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		out[i] = v
	}
	return out, nil
}
