// Package alerts evaluates alert rules against every scored snapshot and
// delivers webhook notifications to Slack, Teams or generic HTTP targets.
// Engine implements pipeline.Observer; failed invocations are not evaluated.
package alerts
