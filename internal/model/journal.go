package model

// JournalRecord is one appended entry of the replicated change
// journal. Revisions are assigned by the journal in strictly
// increasing order and define the global commit order across the
// cluster. A record is immutable once appended.
type JournalRecord struct {
	Revision  uint64      `json:"revision"`
	Producer  string      `json:"producer"` // cluster node id that appended the record
	Timestamp int64       `json:"timestamp"`
	Batch     ChangeBatch `json:"batch"`
	Checksum  uint32      `json:"checksum"` // CRC32 over the serialized batch
}
