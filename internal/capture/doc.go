// Package capture models the already-open local capture source consumed by
// the audio pipeline. A Handle exposes an audio Track; consumers subscribe to
// the track to receive PCM frames, which mirrors cloning a live media track.
// Sources are a pushed stream (tests, external producers) or a paced WAV
// file replay.
package capture
