package mqtt

import "strings"

// Message kinds carried on device topics.
const (
	KindSensors = "sensors"
	KindState   = "state"
)

// namespaces that may prefix a device topic.
var namespaces = map[string]struct{}{
	"paragon":  {},
	"mythraos": {},
}

// ParsedTopic is a decoded device topic of the form
// [namespace/]room/controller/deviceType/{sensors|state}/specific.
type ParsedTopic struct {
	Namespace string
	DeviceID  string
	Kind      string
	Sensor    string
}

// ParseDeviceTopic decodes a device topic. It returns ok=false for
// topics that are not sensor or state messages; those are ignored, not
// errors.
func ParseDeviceTopic(topic string) (ParsedTopic, bool) {
	parts := strings.Split(topic, "/")

	offset := 0
	var ns string
	if len(parts) >= 6 {
		lower := strings.ToLower(parts[0])
		if _, ok := namespaces[lower]; ok {
			ns = lower
			offset = 1
		}
	}
	if len(parts) < offset+5 {
		return ParsedTopic{}, false
	}

	kind := strings.ToLower(parts[offset+3])
	if kind != KindSensors && kind != KindState {
		return ParsedTopic{}, false
	}

	return ParsedTopic{
		Namespace: ns,
		DeviceID:  parts[offset+1],
		Kind:      kind,
		Sensor:    parts[offset+4],
	}, true
}
