// Package remote bridges the control facade onto an MQTT broker so that
// other systems can observe and drive the connected bulb.
//
// Topics, with the default "smartbulb" prefix:
//
//	smartbulb/discovery/{device_id}     retained DiscoveryMessage per scan result
//	smartbulb/availability/{device_id}  retained "online" / "offline"
//	smartbulb/state/{device_id}         retained StateMessage
//	smartbulb/command/{device_id}       inbound CommandMessage
//	smartbulb/ack/{device_id}           AckMessage per command
//
// Commands are only accepted for the bulb with the active session.
// Retained availability and state are republished after every broker
// reconnect.
package remote
