// Package listener provides engine.ResultListener implementations.
//
// Collector keeps delivered events in memory for tests, scenarios and the
// CLI. RedisPublisher forwards each delivered event to Redis pub/sub so
// downstream subscribers see derived events as they happen. The SQLite
// recorder lives in package store.
package listener
