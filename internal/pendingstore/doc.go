// Package pendingstore is the durable queue decoupling capture from commit.
// A finished take is stored in full, binary payload included, so the commit
// phase can resume after the process that captured it is gone. Entries live
// until explicitly cleared; there is no background expiry.
package pendingstore
