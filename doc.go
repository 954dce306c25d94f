package txnkv

/*
TxnKV is an in-process transactional key/value map intended for teaching and experimentation with concurrency control.
It keeps everything in memory; there is no persistence and no distribution.

Two interchangeable strategies implement the same transaction interface:

* pessimistic: strict two-phase locking on striped, upgradeable latches. Readers share a latch, writers upgrade it, and a
  transaction fails when it cannot get a latch within the lock timeout.
* optimistic: multi-version snapshots. A transaction reads at the newest version every earlier commit is published at,
  buffers its writes, and validates its reads when it commits. Old versions are garbage collected behind a queue of
  commits.

The `txnkv` module is organized into the following packages:

* `kv/transaction/mvcc`: keys, versioned values, the transaction lifecycle, the interfaces and the typed failures.
* `kv/transaction/latches`: the upgradeable mutex and the striped latches both strategies lock with.
* `kv/transaction/pessimistic` and `kv/transaction/optimistic`: the two transactional maps.
* `kv/transaction/retry`: runs a transaction body again until it commits without a concurrency failure.
* `kv/storage`: the sharded in-memory map the strategies keep their versions in.
* `kv/config`: configuration and logging setup.
* `kv/txnkv-bench`: a bank transfer benchmark which checks that no money is created or lost.
*/
