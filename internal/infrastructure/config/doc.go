// Package config loads and validates Latchline configuration.
//
// Two root structures live here. Config drives the validation service
// (cmd/latchline); ControllerConfig drives the door controller daemon
// (cmd/doorlinkd). Both resolve the same way: built-in defaults first,
// then the YAML file, then LATCHLINE_* environment variables, then a
// single Validate pass that reports every problem at once.
//
// Secrets (admin secret hash, JWT signing key, broker password, the
// InfluxDB token) are expected to arrive through the environment so
// the YAML file can be committed without them. Keep the file itself at
// 0600 anyway when a password does end up in it.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
