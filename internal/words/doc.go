// Package words splits perspective text into an ordered token stream with a
// stable word index.
//
// Word tokens receive sequential indices; code fences, inline code spans,
// HTML comments, and heading markers are recognized and excluded from
// indexing but still emitted so rendering is lossless. Timing arrays are
// positionally aligned with the indices produced here, so tokenization must
// be deterministic for a given text revision: input is NFC-normalized first.
package words
