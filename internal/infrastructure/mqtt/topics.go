package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic pip-core publishes or subscribes to.
const TopicPrefix = "pip"

// Topics builds pip-core MQTT topics.
//
//	topic := mqtt.Topics{}.DevicePresence("AB12X")
//	// Returns: "pip/devices/AB12X/presence"
type Topics struct{}

// DevicePresence is the retained per-device presence topic.
//
// Example: pip/devices/AB12X/presence
func (Topics) DevicePresence(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/presence", TopicPrefix, deviceID)
}

// AllDevicePresence matches every device presence topic.
//
// Pattern: pip/devices/+/presence
func (Topics) AllDevicePresence() string {
	return fmt.Sprintf("%s/devices/+/presence", TopicPrefix)
}

// FirmwarePublished carries notifications that a new firmware release exists.
//
// Example: pip/firmware/published
func (Topics) FirmwarePublished() string {
	return fmt.Sprintf("%s/firmware/published", TopicPrefix)
}

// SystemStatus is the retained online/offline topic for this process (LWT).
//
// Example: pip/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", TopicPrefix)
}

// DeviceIDFromPresenceTopic extracts the device ID from a presence topic.
// It returns false for any other topic shape.
func DeviceIDFromPresenceTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "devices" || parts[3] != "presence" || parts[2] == "" { //nolint:mnd // pip/devices/{id}/presence
		return "", false
	}
	return parts[2], true
}
