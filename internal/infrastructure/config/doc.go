// Package config loads and validates the PlantNode daemon configuration.
//
// Configuration is layered: hardcoded defaults, then the YAML file, then
// PLANTNODE_* environment variables. The result is validated once at
// startup; an invalid configuration refuses to start rather than limping.
//
// WiFi credentials are deliberately NOT part of this configuration. They
// arrive over BLE provisioning and live in the configstore, where the
// crash-safe commit protocol owns them.
package config
