// Package download saves selected documents below a destination root.
//
// A download is conditional: a document already on disk is fetched again
// only when the server's Last-Modified time is strictly newer than the
// local file's modification time. Every attempt is classified as one of the
// outcome kinds of the model package, so a batch never fails as a whole.
//
// # Layout
//
// The local path of a URL is derived from its host and path:
//
//	https://example.edu/dept/report.pdf -> <root>/example.edu/dept/report.pdf
//	https://example.edu/dept/           -> <root>/example.edu/dept/index.html
//
// Files are written to a temporary file in the destination directory and
// renamed into place, so a partially written document never replaces a
// complete one. The saved file's modification time is set to the server's
// Last-Modified time.
package download
