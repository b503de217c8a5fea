// Package config loads the `edge:` section of echoguard.yaml for the device
// simulator and watches the file for live changes.
//
// Load(path) applies defaults, then validates. Watch(ctx, path, onChange)
// reloads on every write; the simulator applies interval and
// anomaly_probability changes without restarting.
package config
