// matching-service ranks scraped jobs against student profiles by vector
// similarity.
//
// Subcommands:
//   - serve: HTTP API, gRPC health and the scheduled ingest/sweep cycle
//   - ingest: one batch ingest from the configured job source
//   - sweep: one retention pass
//   - reembed: regenerate vectors produced by a different model
//   - version: print the build version
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
