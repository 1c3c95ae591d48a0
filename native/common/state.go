package common

// KVState is the key/value port every native module persists through.
type KVState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Snapshotter exposes revision based rollback over buffered state.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

// State combines persistence with rollback support.
type State interface {
	KVState
	Snapshotter
}

// Atomic runs fn against st and reverts every write it made when it returns an
// error. Nested calls compose: an inner failure only reverts the inner writes.
func Atomic(st Snapshotter, fn func() error) (err error) {
	if st == nil {
		return fn()
	}
	snap := st.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			st.RevertToSnapshot(snap)
			panic(r)
		}
		if err != nil {
			st.RevertToSnapshot(snap)
		}
	}()
	return fn()
}
