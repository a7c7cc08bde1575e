// Package vad classifies captured audio as speaking or silent. An Analyser
// keeps the most recent window of samples from a capture track and produces
// a byte-scaled frequency snapshot; a Monitor averages that snapshot and
// compares it against a volume threshold.
package vad
