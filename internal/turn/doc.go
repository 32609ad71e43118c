// Package turn implements the conversational turn-taking coordinator.
// One coordinator owns the listen → transcribe → answer → speak loop:
// it arms capture, debounces streamed transcript fragments into a single
// utterance, requests the answer and its synthesis, and sequences
// playback before re-arming capture. A processing flag keeps turns
// strictly sequential; capture is always stopped before the assistant
// speaks so the system never transcribes its own voice.
package turn
