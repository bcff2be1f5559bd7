package pool

import (
	"errors"
	"fmt"
	"time"
)

// ErrPoolClosed is returned by AcquireLease after shutdown has started.
var ErrPoolClosed = errors.New("connection pool is shut down")

// AcquisitionTimeoutError is returned when the pool stayed saturated for the
// whole acquire timeout. The caller holds no lease and must not release one.
type AcquisitionTimeoutError struct {
	OwnerTag string
	Waited   time.Duration
}

func (e *AcquisitionTimeoutError) Error() string {
	return fmt.Sprintf("connection acquisition timeout for %q after %s", e.OwnerTag, e.Waited)
}
