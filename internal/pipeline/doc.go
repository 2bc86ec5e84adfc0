// Package pipeline runs the sync workflow as a sequence of steps.
//
// A sync is crawl, collect, download and extract. Each stage is a Step that
// receives the shared model.SyncReport, fills in its own section, and reads
// what earlier steps produced: the collect step reads the crawl result, the
// download step reads the collected keys.
//
// The pipeline checks the context before every step and stops at the first
// step error unless WithContinueOnError is set. A cancelled context or a
// stopped crawl always ends the run, with the report marked as stopped.
//
// BatchProcessor runs one pipeline per start prefix with bounded
// concurrency, using errgroup.
package pipeline
