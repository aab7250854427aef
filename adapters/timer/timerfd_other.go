//go:build !linux

package timer

import (
	"time"

	"github.com/artpar/conduit/core/channel"
)

const timerfdSupported = false

func timerfdOpen(initial, interval time.Duration) (int, error) {
	return -1, channel.ErrInvalid
}

func timerfdRead(fd int) (uint64, error) { return 0, channel.ErrInvalid }

func timerfdClose(fd int) {}
