package bulkqueue

// Queue is an ordered accumulation of rendered bulk records awaiting
// flush. It is not safe for concurrent use; the indexer's single logical
// executor is the only mutator, per spec.md §3/§5.
type Queue struct {
	records [][]byte
	size    int
}

// Append adds one rendered record, preserving input order.
func (q *Queue) Append(record []byte) {
	q.records = append(q.records, record)
	q.size += len(record)
}

// Len returns the number of records currently queued.
func (q *Queue) Len() int {
	return len(q.records)
}

// ByteLen returns the total byte length of the queued records.
func (q *Queue) ByteLen() int {
	return q.size
}

// Take atomically empties the queue and returns the concatenation of its
// records in order. Calling Take on an empty queue returns nil and leaves
// the queue untouched (idempotent no-op).
func (q *Queue) Take() []byte {
	if len(q.records) == 0 {
		return nil
	}

	out := make([]byte, 0, q.size)
	for _, r := range q.records {
		out = append(out, r...)
	}

	q.records = nil
	q.size = 0
	return out
}
