// Package redis implements job.Store on Redis using go-redis. Ordering lanes
// are Lists (RPUSH / BLPOP), job records are Hashes with a PEXPIRE retention
// window, and the active index is a Set. Versioned record writes run as a
// Lua script so the version check and the write are atomic.
//
// The caller owns the Redis client lifecycle -- the store never closes it:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client, redis.WithNamespace("generation"))
//	if err := s.Ping(ctx); err != nil { ... }
package redis
