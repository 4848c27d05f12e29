// Package notify implements the terminal pipeline stage that routes
// hold and variance alerts to the notification service.
package notify
