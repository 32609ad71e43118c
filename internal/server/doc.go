// Package server implements the HTTP API for monitoring and managing the
// voice agent: health and statistics endpoints, session control, selected
// voice management, and Prometheus metrics exposure.
package server
