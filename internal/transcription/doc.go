// Package transcription implements the HTTP client for the batch
// transcription API. It submits one WAV-encoded segment per multipart
// request with a context hint, implements retry logic with exponential
// backoff, and manages rate limiting.
package transcription
