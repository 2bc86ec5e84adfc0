// Package crawler walks a delimiter-listed bucket breadth first.
//
// # Architecture
//
// The package is built around the Scheduler, which owns the frontier of
// one tree level at a time. Each level is dispatched to a bounded worker
// pool; the scheduler waits for every worker of the level before it folds
// the outcomes into the next frontier. No prefix of depth d+1 is fetched
// before every prefix of depth d has resolved.
//
// # Per-node work
//
// A worker fetches the listing for its prefix, writes the raw document to
// the mirror, and parses it. Each stage failure is returned as a tagged
// model.NodeOutcome; workers never fail the pool, so one bad node only
// prunes its own subtree.
//
// # Termination
//
// Before each level the scheduler checks, in order:
//   - the stop flag and the context (state Stopped)
//   - the mirror write failure count (state Fatal, Run returns ErrFatalIO)
//   - an empty frontier (state Drained)
//   - the depth boundary (state DepthExceeded)
//
// # Usage
//
//	s := crawler.NewScheduler(fetcher, writer,
//		crawler.WithWorkers(64),
//		crawler.WithMaxDepth(10),
//	)
//	result, err := s.Run(ctx, "data/")
package crawler
