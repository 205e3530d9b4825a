// Package keypool maintains the in-memory pool of API keys. It defines the
// per-key record with its selection weight and health status, the ordered
// pool container, and the parser for key source files.
package keypool
