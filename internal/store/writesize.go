package store

import (
	"fmt"
	"strings"
	"time"
)

// WriteSizeLimit is the Firebase write-size category. The server rejects a
// write it estimates to take longer than the category's timeout.
type WriteSizeLimit string

const (
	WriteSizeTiny      WriteSizeLimit = "tiny"
	WriteSizeSmall     WriteSizeLimit = "small"
	WriteSizeMedium    WriteSizeLimit = "medium"
	WriteSizeLarge     WriteSizeLimit = "large"
	WriteSizeUnlimited WriteSizeLimit = "unlimited"
)

func ParseWriteSizeLimit(s string) (WriteSizeLimit, error) {
	switch l := WriteSizeLimit(strings.ToLower(strings.TrimSpace(s))); l {
	case WriteSizeTiny, WriteSizeSmall, WriteSizeMedium, WriteSizeLarge, WriteSizeUnlimited:
		return l, nil
	default:
		return "", fmt.Errorf("invalid write size limit %q (allowed: tiny, small, medium, large, unlimited)", s)
	}
}

// WriteTimeout is the server-side write timeout of the category. Zero means
// no limit.
func (l WriteSizeLimit) WriteTimeout() time.Duration {
	switch l {
	case WriteSizeTiny:
		return time.Second
	case WriteSizeSmall:
		return 10 * time.Second
	case WriteSizeMedium:
		return 30 * time.Second
	case WriteSizeLarge:
		return time.Minute
	default:
		return 0
	}
}
