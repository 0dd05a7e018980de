// Package safety gates scene activation on live device state. Checks are
// fail-closed: any state that cannot be fetched or compared blocks the
// scene.
package safety

import (
	"fmt"
	"math"
	"reflect"
)

// Check mirrors scene.SafetyCheck without importing it; the orchestrator
// converts at the call site so this package stays dependency-free for
// reuse by external tooling.
type Check struct {
	ID            string
	Description   string
	DeviceID      string
	ExpectedValue any
}

// Result records one check's outcome.
type Result struct {
	CheckID string
	Passed  bool
	Reason  string
}

// DeviceStateClient fetches the current reported state of a device. An
// error or a nil state means the device is not available.
type DeviceStateClient interface {
	DeviceState(deviceID string) (map[string]any, error)
}

// Config tunes verifier policy.
type Config struct {
	// AllowManualChecks passes checks that name no device, on the grounds
	// that an operator verified them by hand. Set false to block any scene
	// carrying manual checks.
	AllowManualChecks bool
}

func DefaultConfig() Config {
	return Config{AllowManualChecks: true}
}

// Verifier runs safety checks against a device state source.
type Verifier struct {
	client DeviceStateClient
	cfg    Config
}

func NewVerifier(client DeviceStateClient, cfg Config) *Verifier {
	return &Verifier{client: client, cfg: cfg}
}

// VerifyAll runs every check and reports whether all passed, plus the
// per-check results for operator display. It never short-circuits, so
// the operator sees everything that is wrong at once.
func (v *Verifier) VerifyAll(checks []Check) (bool, []Result) {
	if len(checks) == 0 {
		return true, nil
	}

	results := make([]Result, 0, len(checks))
	allPassed := true
	for _, c := range checks {
		r := v.verify(c)
		if !r.Passed {
			allPassed = false
		}
		results = append(results, r)
	}
	return allPassed, results
}

func (v *Verifier) verify(c Check) Result {
	if c.DeviceID == "" {
		if v.cfg.AllowManualChecks {
			return Result{CheckID: c.ID, Passed: true, Reason: "manually verified"}
		}
		return Result{CheckID: c.ID, Passed: false, Reason: "manual checks are not allowed"}
	}

	if v.client == nil {
		return Result{CheckID: c.ID, Passed: false, Reason: fmt.Sprintf("device %s state is not available", c.DeviceID)}
	}
	state, err := v.client.DeviceState(c.DeviceID)
	if err != nil || state == nil {
		return Result{CheckID: c.ID, Passed: false, Reason: fmt.Sprintf("device %s state is not available", c.DeviceID)}
	}

	if c.ExpectedValue == nil {
		// Presence check only.
		return Result{CheckID: c.ID, Passed: true, Reason: "device available"}
	}

	if expected, ok := c.ExpectedValue.(map[string]any); ok {
		if missing, got, want, match := compareStateMap(state, expected); !match {
			return Result{
				CheckID: c.ID,
				Passed:  false,
				Reason:  fmt.Sprintf("device %s field %s is %v, expected %v", c.DeviceID, missing, got, want),
			}
		}
		return Result{CheckID: c.ID, Passed: true, Reason: "state matches"}
	}

	return Result{CheckID: c.ID, Passed: false, Reason: fmt.Sprintf("check %s has an uncomparable expected value", c.ID)}
}

// compareStateMap checks that every expected field matches the reported
// state, descending into nested maps. It returns the first mismatching
// field path with both values.
func compareStateMap(state, expected map[string]any) (field string, got, want any, match bool) {
	for k, wantV := range expected {
		gotV, ok := state[k]
		if !ok {
			return k, nil, wantV, false
		}
		if nestedWant, isMap := wantV.(map[string]any); isMap {
			nestedGot, gotMap := gotV.(map[string]any)
			if !gotMap {
				return k, gotV, wantV, false
			}
			if f, g, w, m := compareStateMap(nestedGot, nestedWant); !m {
				return k + "." + f, g, w, false
			}
			continue
		}
		if !valuesEqual(gotV, wantV) {
			return k, gotV, wantV, false
		}
	}
	return "", nil, nil, true
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return math.Abs(af-bf) < 1e-9
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
