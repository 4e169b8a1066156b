package taskqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockedby/tgfetch/internal/apperr"
)

func TestCheckUploadSize(t *testing.T) {
	tests := []struct {
		name       string
		size       int64
		privileged bool
		wantErr    bool
	}{
		{"small", 1024, false, false},
		{"exactly standard limit", StandardUploadLimit, false, false},
		{"one byte over standard", StandardUploadLimit + 1, false, true},
		{"premium allows over standard", StandardUploadLimit + 1, true, false},
		{"exactly premium limit", PremiumUploadLimit, true, false},
		{"one byte over premium", PremiumUploadLimit + 1, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckUploadSize(tt.size, tt.privileged)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrSizeLimitExceeded)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Equal(t, int64(2000*1024*1024+1), StandardUploadLimit+1)
}
