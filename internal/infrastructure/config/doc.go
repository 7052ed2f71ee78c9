// Package config handles loading and validating the KLW bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with KLWIOT_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The gateway password or challenge code and the MQTT and InfluxDB
//     credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/klwbridge.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Gateway.Host)
package config
