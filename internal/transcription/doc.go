// Package transcription uploads finalized audio chunks to the server's
// transcription endpoint. Uploads are fire-and-forget: Dispatch returns at
// once, a bounded number of requests run concurrently, and failures are
// logged and counted but never reported back to the segmenter.
package transcription
