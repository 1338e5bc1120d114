package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"

	apperrors "chatcore/pkg/errors"
)

const maxConflictRetries = 5

// OpenBadger opens the embedded store. An empty path opens an in-memory
// instance, used by tests and throwaway dev servers.
func OpenBadger(path string) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	db, err := badger.Open(opts.WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return db, nil
}

// update runs fn in a read-write transaction, retrying on optimistic
// concurrency conflicts.
func update(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key string, out interface{}) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

// storeErr passes AppErrors through and wraps everything else.
func storeErr(message string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Store(message, err)
}

// Keys. Sequence numbers are zero padded to 19 digits so that lexical order
// equals numeric order.
func userKey(id string) string { return "user:" + id }
func usernameKey(name string) string { return "username:" + name }
func convKey(id string) string { return "conv:" + id }
func memberPrefix(userID string) string { return "member:" + userID + ":" }
func memberKey(userID, convID string) string { return memberPrefix(userID) + convID }
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "pair:" + a + ":" + b
}
func msgPrefix(convID string) string { return "msg:" + convID + ":" }
func msgKey(convID string, seq int64) string {
	return fmt.Sprintf("%s%019d", msgPrefix(convID), seq)
}
func msgIDKey(convID, msgID string) string { return "msgid:" + convID + ":" + msgID }

var newestSeq = int64(math.MaxInt64)
