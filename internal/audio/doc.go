// Package audio handles audio container encoding and format inspection.
// It quantizes captured float32 PCM samples into mono 16-bit WAV suitable
// for transport to the transcription and synthesis services.
package audio
