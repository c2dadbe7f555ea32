// Package persistence stores per-perspective word timings and audio
// references. Restricted scopes require a token checked against a one-way
// hash and have their timings and audio reference encrypted at rest with a
// token-derived key; unrestricted scopes store plaintext. A new managed
// audio reference is only accepted after an existence probe, so dangling
// references are never persisted.
package persistence
