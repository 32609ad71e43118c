// Package synthesis implements the HTTP client for the request/response
// text-to-speech service, returning the raw synthesized audio bytes.
package synthesis
