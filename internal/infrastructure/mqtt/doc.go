// Package mqtt provides the MQTT broker connection used by the
// remote-control bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retained messages
//   - Subscriptions that are restored after reconnects
//   - A retained system status with Last Will and Testament
//
// Topics are built by Topics from the configured prefix (default
// "smartbulb"); see Topics for the hierarchy.
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) outside a trusted LAN
//   - Pass credentials through SMARTBULB_MQTT_USERNAME / SMARTBULB_MQTT_PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().State(id), state, true)
package mqtt
