// Package redis implements slot leases and a Sidekiq-compatible forwarder on
// go-redis.
//
// SlotStore gives each lease an owner value and a TTL; renew and release are
// Lua scripts that act only while the caller still owns the key. Forwarder
// pushes payloads in a single MULTI/EXEC using Sidekiq's key layout, so
// Sidekiq processes consume them unchanged.
package redis
