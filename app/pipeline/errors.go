package pipeline

import (
	"errors"
	"fmt"

	"github.com/lysyi3m/astrobot/app/database"
)

var (
	ErrItemNotFound   = errors.New("item not found")
	ErrSourceNotFound = errors.New("source not found")
)

// InvalidStateError reports an action the item's current status does not allow.
type InvalidStateError struct {
	ItemID int64
	Status database.ItemStatus
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s item %d in status %s", e.Action, e.ItemID, e.Status)
}

// SyncInProgressError means another run holds the source lock.
type SyncInProgressError struct {
	Source string
}

func (e *SyncInProgressError) Error() string {
	return fmt.Sprintf("sync already in progress for source %s", e.Source)
}

type TranslationError struct {
	ItemID int64
	Code   string
	Err    error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("failed to translate item %d (%s): %v", e.ItemID, e.Code, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}
