// Package lanes runs tasks in keyed lanes with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute one at a time in submission order.
// - Tasks in different lanes may execute concurrently.
// - A lane exists only while it has queued or executing tasks.
//
// Usage:
//
//	q := lanes.New(logger)
//	pos, err := q.Submit(ctx, "session:abc", func(ctx context.Context) error {
//		return nil
//	})
//	q.Close()
//	q.Wait()
package lanes
