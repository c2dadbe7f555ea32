// Package orchestrator drives the take lifecycle: capture start/stop, the
// post-capture pipeline (placeholder seeding, local playback override,
// analysis), and the durable commit phase (transcode, upload, persist,
// draft cleanup) with pause/resume on interruption.
package orchestrator
