// Package mirror copies graph changes to a secondary store for analytics
// and visualisation.
//
// A Dispatcher is installed as the graph store's notifier:
//
//	publisher, err := mirror.DialRedis(ctx, "localhost:6379", "", 0)
//	dispatcher := mirror.NewDispatcher(ctx, publisher, mirror.DefaultConfig("redis"))
//	store := graph.New(db, graph.WithNotifier(dispatcher))
//
// Every committed change becomes a JSON Event on subject
// "<prefix>.<kind>", for example "quorum.graph.edge.upsert". The mirror is
// fire-and-forget: it never blocks or fails a store write, drops events
// when its queue is full, and does not retry. Resync, usually on a cron
// schedule, republishes the whole graph so the mirror converges anyway.
//
// Publishers exist for Redis pub/sub and NATS.
package mirror
