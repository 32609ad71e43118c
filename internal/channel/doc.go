// Package channel implements the persistent streaming transcription
// channel. A single websocket connection carries captured audio out and
// transcript fragments, synthesized audio chunks, and stream markers back
// in. Inbound parsing is deliberately lenient: endpoints disagree on
// message nesting, and malformed text frames degrade to plain transcripts
// rather than failing the channel.
package channel
