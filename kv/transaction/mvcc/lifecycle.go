package mvcc

// State is the state of a transaction. A transaction leaves StateOpen exactly once and never returns.
type State int32

const (
	StateOpen       State = 0
	StateRolledBack State = 1
	StateCommitted  State = 2
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateRolledBack:
		return "rolled back"
	case StateCommitted:
		return "committed"
	}
	return "unknown"
}

// Op is a write operation staged in a transaction.
type Op int

const (
	OpInsert Op = 1
	OpUpdate Op = 2
	OpDelete Op = 3
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Lifecycle is the net effect a transaction has on one key, relative to the value the key had upstream when the
// transaction started touching it.
type Lifecycle int

const (
	// LifecycleNone means the key was only read.
	LifecycleNone Lifecycle = iota
	// LifecycleInserted means the key must not exist upstream and will exist after commit.
	LifecycleInserted
	// LifecycleUpdated means the key must exist upstream and will exist after commit.
	LifecycleUpdated
	// LifecycleDeleted means the key must exist upstream and will not exist after commit.
	LifecycleDeleted
	// LifecycleInsertDeleted means the key was inserted then deleted by the transaction; it must not exist upstream
	// and nothing is published for it.
	LifecycleInsertDeleted
)

func (lc Lifecycle) String() string {
	switch lc {
	case LifecycleNone:
		return "none"
	case LifecycleInserted:
		return "inserted"
	case LifecycleUpdated:
		return "updated"
	case LifecycleDeleted:
		return "deleted"
	case LifecycleInsertDeleted:
		return "insert-deleted"
	}
	return "unknown"
}

// next returns the lifecycle after applying op. Callers have already checked op against the locally known presence
// of the key, so the impossible combinations fall through unchanged.
func (lc Lifecycle) next(op Op) Lifecycle {
	switch op {
	case OpInsert:
		switch lc {
		case LifecycleNone, LifecycleInsertDeleted:
			return LifecycleInserted
		case LifecycleDeleted:
			return LifecycleUpdated
		}
	case OpUpdate:
		if lc == LifecycleNone {
			return LifecycleUpdated
		}
	case OpDelete:
		switch lc {
		case LifecycleNone, LifecycleUpdated:
			return LifecycleDeleted
		case LifecycleInserted:
			return LifecycleInsertDeleted
		}
	}
	return lc
}

// Check validates the lifecycle against whether the key currently exists in the shared store.
func (lc Lifecycle) Check(exists bool) (Reason, bool) {
	switch lc {
	case LifecycleInserted:
		if exists {
			return ReasonInsertExisting, false
		}
	case LifecycleUpdated:
		if !exists {
			return ReasonUpdateNonexistent, false
		}
	case LifecycleDeleted:
		if !exists {
			return ReasonDeleteNonexistent, false
		}
	case LifecycleInsertDeleted:
		if exists {
			return ReasonInsertDeleteExisting, false
		}
	}
	return 0, true
}

// Publishes reports whether a key with this lifecycle has anything to write at commit.
func (lc Lifecycle) Publishes() bool {
	return lc != LifecycleNone && lc != LifecycleInsertDeleted
}

// Reason says why a lifecycle check failed.
type Reason int

const (
	ReasonInsertExisting Reason = iota + 1
	ReasonUpdateNonexistent
	ReasonInsertDeleteExisting
	ReasonDeleteNonexistent
)

func (r Reason) String() string {
	switch r {
	case ReasonInsertExisting:
		return "INSERT_EXISTING"
	case ReasonUpdateNonexistent:
		return "UPDATE_NONEXISTENT"
	case ReasonInsertDeleteExisting:
		return "INSERT_DELETE_EXISTING"
	case ReasonDeleteNonexistent:
		return "DELETE_NONEXISTENT"
	}
	return "UNKNOWN"
}
