// Package balancer is the service that ties the key pool together:
// weighted selection with recency bias, outcome-driven health updates,
// durable state via the storage writer, and the retry executor that
// rotates keys across attempts.
//
// One mutex guards the pool, the cumulative weight table and the recency
// cache. It is held only for in-memory steps and always released before a
// caller's operation runs, so slow external calls never serialize behind
// each other.
package balancer
