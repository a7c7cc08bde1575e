// Package audio cuts a live capture into chunks for transcription. A
// Segmenter drives record, sample, cut and restart cycles: each cycle records
// from the capture track, samples voice activity on a fixed cadence and cuts
// on the first matching Policy rule (maximum duration, or minimum duration
// followed by enough silence). Finalized chunks above the minimum size go to
// a Sink; smaller ones are dropped.
package audio
