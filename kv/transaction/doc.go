package transaction

// The transaction package groups TxnKV's transaction layer. A transaction is started from a map with Transact, reads
// and writes keys through mvcc.Txn, and finishes with Commit or Rollback. A failure caused by a concurrent transaction
// (see mvcc.IsRetryable) rolls the transaction back and is returned as an error; the caller may run the same body again,
// which is what the retry package does. Misuse, such as inserting a key the transaction already sees, panics.
//
// Both strategies lock through the latches package. Keys are hashed to a fixed number of stripes, and the last stripe
// is reserved for internal keys such as the size counter, so any transaction which locks it does so after its user
// stripes.
//
// In `pessimistic`, every read takes a shared latch on the key's stripe and every write upgrades it. Latches are held
// until the transaction finishes, so a committed transaction saw no concurrent writer. Waits are bounded by the lock
// timeout; this is how deadlocks are resolved.
//
// In `optimistic`, reads see the snapshot at the transaction's read version and writes are buffered. Commit latches the
// stripes of every key the transaction touched, in stripe order, then fails if a key it read has a newer version
// (an antidependency) before it publishes its writes at a new version. Committed transactions are queued; once the
// head of the queue is finished, its keys are truncated to the queue depth and the safe version new transactions read
// at moves up to it. A transaction whose snapshot was truncated away fails with a broken snapshot.
//
// The `mvcc` package holds what both strategies share: keys and versioned values, the per-key lifecycle which catches
// inserts of existing keys and updates of missing ones at commit, and the overlay of a transaction's reads and writes.
