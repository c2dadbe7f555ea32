// Package uploader moves a captured payload to the server. The preferred
// path is a two-step direct upload (request a target, PUT the bytes); when
// the context is ineligible or either step fails, a single multipart form
// submission takes over. A canceled upload is an abort, not an error.
package uploader
