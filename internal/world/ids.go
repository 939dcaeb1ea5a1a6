package world

// NodeID identifies a resource node. Zero means none.
type NodeID uint64

// StorageID identifies a storage facility. Zero means none.
type StorageID uint64

// WorkerID identifies a worker agent. Zero means none (an unreserved node).
type WorkerID uint64
