package places

import "time"

// Observer receives operational signals from the store, e.g. for metrics.
type Observer interface {
	DuplicateRejected()
	SnapshotSaved(duration time.Duration, err error)
	SharedItemsFetched(count int, err error)
	BackupCompleted(direction string, err error)
}

type noopObserver struct{}

func (noopObserver) DuplicateRejected()                 {}
func (noopObserver) SnapshotSaved(time.Duration, error) {}
func (noopObserver) SharedItemsFetched(int, error)      {}
func (noopObserver) BackupCompleted(string, error)      {}
