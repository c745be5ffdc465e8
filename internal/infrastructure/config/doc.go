// Package config handles loading and validating the smart-bulb core
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SMARTBULB_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Durations are YAML duration strings ("1500ms", "10s"). HTTP and
// WebSocket timeouts are plain seconds.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Backend.URL)
package config
