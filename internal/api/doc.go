// Package api exposes the REST interface of the agent: message submission and
// lookup backed by the task service, action and plugin discovery, health and
// Prometheus metrics.
package api
