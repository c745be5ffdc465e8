package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "smartbulb"

// Topics builds the remote-control topic hierarchy:
//
//	{prefix}/state/{device_id}         retained bulb state
//	{prefix}/availability/{device_id}  retained "online" / "offline"
//	{prefix}/discovery/{device_id}     retained descriptor
//	{prefix}/command/{device_id}       inbound commands
//	{prefix}/ack/{device_id}           command acknowledgements
//	{prefix}/system/status             core status and LWT
type Topics struct {
	prefix string
}

// NewTopics returns a builder rooted at prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of the hierarchy.
func (t Topics) Prefix() string { return t.root() }

func (t Topics) root() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

func (t Topics) join(parts ...string) string {
	return t.root() + "/" + strings.Join(parts, "/")
}

// State returns the retained state topic of a bulb.
func (t Topics) State(deviceID string) string { return t.join("state", deviceID) }

// Availability returns the retained availability topic of a bulb.
func (t Topics) Availability(deviceID string) string { return t.join("availability", deviceID) }

// Discovery returns the retained discovery topic of a bulb.
func (t Topics) Discovery(deviceID string) string { return t.join("discovery", deviceID) }

// Command returns the command topic of a bulb.
func (t Topics) Command(deviceID string) string { return t.join("command", deviceID) }

// Ack returns the acknowledgement topic of a bulb.
func (t Topics) Ack(deviceID string) string { return t.join("ack", deviceID) }

// SystemStatus returns the core status topic (also the LWT topic).
func (t Topics) SystemStatus() string { return t.join("system", "status") }

// AllCommands matches the command topic of every bulb.
func (t Topics) AllCommands() string { return t.join("command", "+") }

// DeviceID extracts the device ID from a per-bulb topic of the given
// category ("command", "state", ...). ok is false for foreign topics.
func (t Topics) DeviceID(category, topic string) (id string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.join(category)+"/")
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
