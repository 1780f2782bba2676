// Package storage implements the bucketed concurrent map every server's
// Table is built on: a fixed-size slice of per-bucket RWMutex-guarded
// sorted slices, with the bucket chosen by an FNV-1a hash of the key. See store.go for Store,
// ConcurrentMap, and the bucket implementation.
//
// Put and Delete return the previous value and whether the key existed,
// matching what PutRes/DeleteRes/ReplicateRes/ShmemPutRes/ShmemDeleteRes
// need to carry on the wire without a second lookup.
package storage
