package buffer

// Stats summarises a Buffer's current state.
type Stats struct {
	TotalChunks       int    `json:"total_chunks"`
	InMemoryBytes     int64  `json:"in_memory_bytes"`
	SpilledBytes      int64  `json:"spilled_bytes"`
	TotalBytesWritten uint64 `json:"total_bytes_written"`
	BytesFromUpstream uint64 `json:"bytes_from_upstream"`
	CurrentSequence   uint64 `json:"current_sequence"`
	ClientCount       int    `json:"client_count"`
}

// Stats returns a point-in-time snapshot of the buffer's counters.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	chunkCount := len(b.chunks)
	b.mu.RUnlock()

	return Stats{
		TotalChunks:       chunkCount,
		InMemoryBytes:     b.currentSize.Load(),
		SpilledBytes:      b.spilledBytes.Load(),
		TotalBytesWritten: b.totalBytes.Load(),
		BytesFromUpstream: b.upstreamBytes.Load(),
		CurrentSequence:   b.sequence.Load(),
		ClientCount:       b.ClientCount(),
	}
}
