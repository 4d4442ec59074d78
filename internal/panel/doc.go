// Package panel serves the operator page: a static HTML page that logs in
// against the API, lists the registered devices and wakes them.
//
// The assets are embedded with go:embed. When a directory is configured
// and exists, files are served from it instead so the page can be edited
// without rebuilding. Paths without a file extension fall back to
// index.html; missing assets are 404.
package panel
