// Package indexer keeps the store consistent with a set of watched
// directory trees.
//
// A single worker goroutine crawls each watched root with an explicit
// directory stack, decides per file whether the stored record is stale, and
// drives the embedding producers in batches that commit as one store
// transaction. Cancellation is cooperative: Stop flips a flag observed at
// every directory boundary and before every encode, and Pause parks the
// worker at the same checkpoints.
//
// With watching enabled, the worker transitions into watch mode once the
// initial crawl quiesces and from then on reacts to batched filesystem
// events instead of rescanning.
package indexer
