// Package capture owns microphone acquisition and the periodic sampling
// loop. It gates raw PCM buffering on voice activity, assembles finished
// utterance segments, and reports them WAV-encoded through callbacks.
package capture
