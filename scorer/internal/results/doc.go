// Package results persists one Record per scored input and lists recent ones.
//
// Every backend implements Store.Put as an upsert keyed by (device_id,
// timestamp): a second write with the same key replaces the first. All
// numeric fields are stored as strings, and processed_at is an RFC 3339 UTC
// string.
//
// Backends:
//
//	Memory    in-process map with TTL eviction; the default
//	Dynamo    DynamoDB table (hash device_id, range timestamp)
//	Postgres  gorm model with ON CONFLICT (device_id, timestamp) DO UPDATE
//	Redis     one hash per record plus a sorted-set index by processing time
//
// Every backend also implements Lister, returning newest records first.
package results
