package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-finder/internal/logging"
)

// admissionLockKey is the pg_advisory_lock key guarding record admission.
const admissionLockKey int64 = 0x66616365 // "face"

// AdmissionLock serializes admissions across every process sharing the database.
type AdmissionLock struct {
	pool *Pool
	key  int64
}

// NewAdmissionLock creates an advisory lock on the admission key.
func NewAdmissionLock(pool *Pool) *AdmissionLock {
	return &AdmissionLock{pool: pool, key: admissionLockKey}
}

// Lock blocks until the advisory lock is held. The lock lives on a dedicated
// connection, which is returned to the pool by the unlock func.
func (l *AdmissionLock) Lock(ctx context.Context) (func(), error) {
	conn, err := l.pool.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for admission lock: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquire admission lock: %w", err)
	}

	unlock := func() {
		// Unlock must run even if the caller's context is already cancelled.
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.key); err != nil {
			logging.Error().Err(err).Msg("failed to release admission lock")
		}
		conn.Close()
	}
	return unlock, nil
}
