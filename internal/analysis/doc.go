// Package analysis turns a captured audio payload into playback metadata:
// a positive duration and a fixed-width waveform summary, plus the canonical
// 16-bit PCM mono WAV re-encode used for upload.
//
// The heavy per-sample math runs on a dedicated worker goroutine so the
// interactive loop never stalls. Three tiers sit behind one interface and
// are tried in order: worker-side decode and processing, caller-side decode
// with worker-side processing, and a fully inline fallback. Only the failure
// of the last tier surfaces to the caller.
package analysis
