package mqtt

import (
	"encoding/json"
	"log"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// SensorSink receives decoded sensor and device-state updates.
type SensorSink interface {
	HandleSensorUpdate(deviceID, sensorName string, payload map[string]any)
	HandleDeviceState(deviceID, stateName string, payload map[string]any)
}

// IngestHandler returns a message handler that decodes device topics and
// forwards them to the sink. Empty payloads and undecodable JSON are
// dropped with a log line; a noisy device must not be able to wedge the
// subscription.
func IngestHandler(sink SensorSink) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		parsed, ok := ParseDeviceTopic(msg.Topic())
		if !ok {
			return
		}

		raw := msg.Payload()
		if len(strings.TrimSpace(string(raw))) == 0 {
			return
		}

		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Printf("mqtt: undecodable payload on %s: %v", msg.Topic(), err)
			return
		}

		switch parsed.Kind {
		case KindSensors:
			sink.HandleSensorUpdate(parsed.DeviceID, parsed.Sensor, payload)
		case KindState:
			sink.HandleDeviceState(parsed.DeviceID, parsed.Sensor, payload)
		}
	}
}
