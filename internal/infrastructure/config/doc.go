// Package config handles loading and validating the SIAMP light server configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SIAMP_* environment variables
//   - Validation of required fields (all failures reported at once)
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials, the InfluxDB token and the JWT secret should come from the environment
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.TopicPrefix)
package config
