// Package condition caches the latest sensor reading per (device, sensor)
// pair and evaluates win conditions against it. Evaluation is pure given
// the cache: it performs no side effects and never blocks.
package condition

import (
	"encoding/json"
	"log"
	"math"
	"sync"

	"github.com/AaronLay10/SentientDirector/internal/scene"
)

// Evaluator holds the sensor cache. Writers (the orchestrator's sensor
// ingestion path) and readers (watch monitor, stage manager, timeline
// interpreter) may run concurrently; last write wins per key.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]map[string]map[string]any
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]map[string]map[string]any),
	}
}

// UpdateSensorData overwrites the cached payload for a sensor. Payload
// shape is not validated; conditions simply fail against fields that are
// not there.
func (e *Evaluator) UpdateSensorData(deviceID, sensorName string, payload map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	device, ok := e.cache[deviceID]
	if !ok {
		device = make(map[string]map[string]any)
		e.cache[deviceID] = device
	}
	device[sensorName] = payload
}

// SensorValue returns the cached value of one field, for condition
// evaluation and UI feedback.
func (e *Evaluator) SensorValue(deviceID, sensorName, field string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	device, ok := e.cache[deviceID]
	if !ok {
		return nil, false
	}
	payload, ok := device[sensorName]
	if !ok {
		return nil, false
	}
	v, ok := payload[field]
	return v, ok
}

// EvaluateCondition evaluates a single condition against the cache. It
// returns false, never an error, when the device, sensor, or field is not
// yet cached or the operator cannot apply.
func (e *Evaluator) EvaluateCondition(c scene.Condition) bool {
	actual, ok := e.SensorValue(c.DeviceID, c.SensorName, c.Field)
	if !ok {
		return false
	}

	switch c.Operator {
	case scene.OpEqual:
		return equals(actual, c.Value, c.Tolerance)
	case scene.OpNotEqual:
		return !equals(actual, c.Value, c.Tolerance)
	case scene.OpGreater:
		return numericCompare(actual, c.Value, func(a, b float64) bool { return a > b })
	case scene.OpLess:
		return numericCompare(actual, c.Value, func(a, b float64) bool { return a < b })
	case scene.OpGreaterEqual:
		return numericCompare(actual, c.Value, func(a, b float64) bool { return a >= b })
	case scene.OpLessEqual:
		return numericCompare(actual, c.Value, func(a, b float64) bool { return a <= b })
	case scene.OpBetween:
		return between(actual, c.Value)
	case scene.OpIn:
		return in(actual, c.Value)
	case scene.OpAll:
		return containsAll(actual, c.Value)
	case scene.OpAny:
		return containsAny(actual, c.Value)
	default:
		log.Printf("condition: unknown operator %q", c.Operator)
		return false
	}
}

// EvaluateGroup evaluates a condition group. An empty AND group is
// vacuously true; callers must not rely on this for safety-critical logic.
func (e *Evaluator) EvaluateGroup(g scene.ConditionGroup) bool {
	if g.Logic == scene.LogicOr {
		for _, c := range g.Conditions {
			if e.EvaluateCondition(c) {
				return true
			}
		}
		return false
	}

	// AND (default)
	for _, c := range g.Conditions {
		if !e.EvaluateCondition(c) {
			return false
		}
	}
	return true
}

// ClearDevice drops the cache for one device.
func (e *Evaluator) ClearDevice(deviceID string) {
	e.mu.Lock()
	delete(e.cache, deviceID)
	e.mu.Unlock()
}

// ClearAll drops the entire cache.
func (e *Evaluator) ClearAll() {
	e.mu.Lock()
	e.cache = make(map[string]map[string]map[string]any)
	e.mu.Unlock()
}

// Stats reports cache size for diagnostics.
func (e *Evaluator) Stats() (devices, sensors int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, device := range e.cache {
		sensors += len(device)
	}
	return len(e.cache), sensors
}

// asFloat normalizes the numeric types that reach us through JSON decoding
// and hand-authored Go values.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// equals applies tolerance for numeric pairs when set; otherwise strict
// equality (numeric values compare by value across int/float).
func equals(actual, expected any, tolerance *float64) bool {
	af, aok := asFloat(actual)
	ef, eok := asFloat(expected)
	if aok && eok {
		if tolerance != nil {
			return math.Abs(af-ef) <= *tolerance
		}
		return af == ef
	}
	return actual == expected
}

func numericCompare(actual, expected any, cmp func(a, b float64) bool) bool {
	af, aok := asFloat(actual)
	ef, eok := asFloat(expected)
	if !aok || !eok {
		return false
	}
	return cmp(af, ef)
}

// between expects a 2-element numeric range, inclusive at both ends.
func between(actual, expected any) bool {
	af, ok := asFloat(actual)
	if !ok {
		return false
	}
	bounds, ok := asSlice(expected)
	if !ok || len(bounds) != 2 {
		return false
	}
	lo, lok := asFloat(bounds[0])
	hi, hok := asFloat(bounds[1])
	if !lok || !hok {
		return false
	}
	return af >= lo && af <= hi
}

func in(actual, expected any) bool {
	values, ok := asSlice(expected)
	if !ok {
		return false
	}
	for _, v := range values {
		if equals(actual, v, nil) {
			return true
		}
	}
	return false
}

func containsAll(actual, expected any) bool {
	have, hok := asSlice(actual)
	want, wok := asSlice(expected)
	if !hok || !wok {
		return false
	}
	for _, w := range want {
		if !sliceContains(have, w) {
			return false
		}
	}
	return true
}

func containsAny(actual, expected any) bool {
	have, hok := asSlice(actual)
	want, wok := asSlice(expected)
	if !hok || !wok {
		return false
	}
	for _, w := range want {
		if sliceContains(have, w) {
			return true
		}
	}
	return false
}

func sliceContains(haystack []any, needle any) bool {
	for _, v := range haystack {
		if equals(v, needle, nil) {
			return true
		}
	}
	return false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}
