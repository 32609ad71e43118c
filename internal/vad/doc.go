// Package vad provides Voice Activity Detection over frequency-domain
// energy snapshots. It restricts analysis to the speech-relevant band and
// combines mean energy with spectral variance to separate voiced speech
// from steady background noise, emitting speech boundary events.
package vad
