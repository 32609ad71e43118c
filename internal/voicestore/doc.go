// Package voicestore persists the selected synthesis voice in redis so
// the choice survives restarts and is shared across processes. A missing
// selection falls back to the configured default rather than erroring.
package voicestore
