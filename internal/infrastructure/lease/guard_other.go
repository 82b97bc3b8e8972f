//go:build !unix

package lease

import (
	"errors"
	"os"
)

var errGuardBusy = errors.New("lease guard busy")

// 非 unix 平台沒有 flock；請改用 memory 或 redis 後端。
func flock(*os.File, bool) error {
	return errors.ErrUnsupported
}

func funlock(*os.File) error { return nil }
