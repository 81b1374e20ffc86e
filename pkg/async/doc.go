// Package async provides panic-safe background execution.
//
// SafeGo runs one task in a goroutine with a timeout, recovering panics and
// logging failures through logrus.
//
// WorkerPool runs tasks on a fixed set of workers reading from a bounded
// queue. Submit waits for a free slot; TrySubmit never blocks and returns
// ErrQueueFull instead, which is what fire-and-forget callers such as the
// graph mirror use so a slow consumer can never stall a store write.
//
// Batch fans a slice of items out over a temporary pool and collects every
// error.
package async
