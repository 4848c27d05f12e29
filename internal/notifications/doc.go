// Package notifications delivers hold, variance, and summary alerts to
// the configured webhook channel.
package notifications
