// Package server exposes the timing-persistence and upload HTTP surface.
//
// It hosts the perspective save endpoint backed by persistence.Store, a
// direct-upload target endpoint with PUT-able object URLs, the multipart
// fallback endpoint, and read access to stored objects so audio references
// remain probeable.
package server
