// Package api exposes the HTTP admin surface: pipeline health and
// stats, hold review, and queue administration.
package api
