// Package types holds the wire types shared by the scorer API, the WebSocket
// feed and the CLI: the Status classification and the success / failure
// bodies produced for every pipeline invocation.
package types
