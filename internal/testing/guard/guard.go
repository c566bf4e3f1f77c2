// Package guard flips the runtime into test mode so binaries imported by
// tests skip connecting to postgres and redis.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("BUILDFLOW_TEST_MODE") == "" {
			_ = os.Setenv("BUILDFLOW_TEST_MODE", "1")
		}
	})
}
