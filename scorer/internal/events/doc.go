// Package events delivers "object created" notifications to the pipeline.
//
// A Source runs until its context is cancelled and calls Dispatch once per
// matching object, one at a time. Sources:
//
//	AMQP      RabbitMQ queue carrying S3/MinIO bucket notifications
//	MQTT      MQTT topic carrying the same notification JSON
//	DirWatch  fsnotify on a local directory, one event per written file
//
// Filtering by key suffix belongs to the source (Filter), never to the
// pipeline.
package events
