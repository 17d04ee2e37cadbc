// Package config provides loading and environment overlay for the
// provenance repository configuration. It exposes a Default() baseline,
// Load() for JSON and YAML files, and a NIFI_PROV_* environment overlay.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/nifi-prov.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
