// Package config loads the scorer configuration from the `scorer:` section of
// echoguard.yaml (the `edge:` key is ignored by the scorer binary).
//
// Config fields:
//   - GRPCPort, HTTPPort  listener ports (defaults 50051, 8080)
//   - LogLevel            slog level; LOG_LEVEL in the environment wins
//   - DeviceID            device written into every record (default test_rig_1)
//   - Model               model path, threshold file, ONNX Runtime library
//   - Window              width and stride (defaults 64, 32)
//   - Storage             s3 (minio-go) or dir fetch backend
//   - Results             memory, dynamodb, postgres, redis or none
//   - Events              amqp, mqtt and dir sources plus the key suffix filter
//   - Auth                apikey or none, for gRPC and REST
//   - Stream, Alerts      WebSocket push interval, alert rules and webhooks
//
// Secrets are never stored in the file: *_env fields name the environment
// variable to read. Load(path) applies defaults before unmarshalling, then
// validates.
package config
