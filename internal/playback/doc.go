// Package playback buffers synthesized audio chunks and plays them back
// as one continuous clip. Streamed synthesis delivers audio in fragments;
// the buffer collects them inside an explicit window and hands the joined
// clip to a Player when the stream's end marker arrives.
package playback
