// Package answer implements the HTTP client for the external answer
// service that turns a finalized user utterance into assistant text.
package answer
