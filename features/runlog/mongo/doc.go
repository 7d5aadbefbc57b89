// Package mongo provides a MongoDB-backed run event journal.
//
// Use clients/mongo to build the low-level client and pass it to NewStore to
// obtain a runlog.Store that persists the events received by each run.
package mongo
