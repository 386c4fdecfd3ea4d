// Package preflight runs environment checks before indexify opens a data
// directory:
//
//   - free disk space at the data directory (minimum 100 MB)
//   - write permission in the data directory
//   - the open file descriptor limit (minimum 1024)
//   - each configured embedding model answering a probe
//
// Failed required checks are critical. Model checks only warn, since an
// index on a working model is still usable.
//
//	checker := preflight.New(preflight.WithModels(router))
//	results := checker.RunAll(ctx, dataDir)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
