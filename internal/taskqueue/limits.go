package taskqueue

import (
	"fmt"

	"github.com/blockedby/tgfetch/internal/apperr"
)

// Upload ceilings per account tier.
const (
	StandardUploadLimit int64 = 2000 * 1024 * 1024
	PremiumUploadLimit  int64 = 4000 * 1024 * 1024
)

// UploadLimit returns the ceiling for the account tier.
func UploadLimit(privileged bool) int64 {
	if privileged {
		return PremiumUploadLimit
	}
	return StandardUploadLimit
}

// CheckUploadSize rejects files above the tier ceiling before they are queued.
func CheckUploadSize(size int64, privileged bool) error {
	if limit := UploadLimit(privileged); size > limit {
		return fmt.Errorf("%w: %d bytes, limit %d", apperr.ErrSizeLimitExceeded, size, limit)
	}
	return nil
}
