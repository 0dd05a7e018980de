package postgres

import (
	"database/sql"
	"strings"

	"github.com/AaronLay10/SentientDirector/internal/scene"
)

// GetDeviceCommandRouting resolves where a device command should be
// published. The device_commands table is the only authority; a nil
// result with a nil error means no mapping exists and the command must
// not be published.
func (c *Client) GetDeviceCommandRouting(deviceNameOrID, commandName string) (*scene.CommandRouting, error) {
	query := `
		SELECT
			cl.slug AS client_slug,
			r.mqtt_topic_base,
			co.controller_id,
			d.device_id,
			dc.specific_command
		FROM devices d
		JOIN controllers co ON d.controller_id = co.id
		JOIN rooms r ON d.room_id = r.id
		JOIN clients cl ON r.client_id = cl.id
		JOIN device_commands dc ON dc.device_id = d.id
		WHERE (d.device_id = $1 OR d.friendly_name = $1 OR d.id::text = $1)
		  AND (dc.command_name = $2 OR dc.specific_command = $2)
		LIMIT 1
	`

	var clientSlug, topicBase, controllerID, deviceID, specificCommand string
	err := c.db.QueryRow(query, deviceNameOrID, commandName).
		Scan(&clientSlug, &topicBase, &controllerID, &deviceID, &specificCommand)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// The room segment is the tail of mqtt_topic_base
	// ("sentient/paragon/clockwork" routes under "clockwork").
	room := clientSlug
	if parts := strings.Split(topicBase, "/"); len(parts) > 0 && parts[len(parts)-1] != "" {
		room = parts[len(parts)-1]
	}

	return &scene.CommandRouting{
		Client:          clientSlug,
		Room:            room,
		Controller:      controllerID,
		Device:          deviceID,
		SpecificCommand: specificCommand,
	}, nil
}
