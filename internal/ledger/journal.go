package ledger

// txn is the undo journal of one in-flight call. Every state mutation made
// during the call records a closure that restores the previous value; rolling
// back runs them newest first. Nested calls and bulk entries share the journal
// and mark their start with a savepoint.
//
// A nil *txn records nothing, which is how genesis helpers mutate state
// outside of any call.
type txn struct {
	undo []func()
}

func newTxn() *txn {
	return &txn{undo: make([]func(), 0, 32)}
}

func (t *txn) record(fn func()) {
	if t == nil {
		return
	}
	t.undo = append(t.undo, fn)
}

func (t *txn) savepoint() int {
	if t == nil {
		return 0
	}
	return len(t.undo)
}

func (t *txn) rollbackTo(sp int) {
	if t == nil {
		return
	}
	for i := len(t.undo) - 1; i >= sp; i-- {
		t.undo[i]()
	}
	t.undo = t.undo[:sp]
}

func (t *txn) rollback() {
	t.rollbackTo(0)
}
