// Package simulate generates the vibration snapshots a bearing test rig
// would upload: a healthy base spectrogram plus small noise, or, with a
// configurable probability, an amplified and noisy anomaly.
//
// Snapshots are named <prefix><YYYY-MM-DD-hh-mm-ss>.npy with prefix
// NORMAL_ or ANOMALY_, so the scorer derives its timestamp key from the name.
package simulate
