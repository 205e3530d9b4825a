// Package selector implements weighted random key selection.
//
// The WeightedSelector draws keys in proportion to their current weights
// using a cumulative weight table: prefix sums over the selectable subset
// of the pool in its stable order. The table is cached and rebuilt lazily,
// only on the first draw after a weight, status, or membership change.
// A draw samples a uniform real in [0, total) and binary-searches the
// table for the first prefix sum exceeding it.
//
// Batches are drawn without replacement: bounded rejection sampling against
// the cached table, with an exact pass over the remaining candidates as a
// fallback, so a batch never mutates the shared table.
//
// The RecencyCache biases batches away from recently selected keys. Keys
// outside the cache are drawn first; recently used keys are admitted only
// once the non-recent candidates run out, so recency never fails a batch
// that the pool could otherwise satisfy.
//
// Nothing in this package locks. The owning service serializes rebuilds,
// draws and cache updates behind its mutation lock.
package selector
