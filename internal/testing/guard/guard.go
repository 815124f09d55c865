// Package guard forces test mode when imported, so test binaries never
// trigger runtime side effects such as worker startup.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("WHOLELOT_TEST_MODE") == "" {
			_ = os.Setenv("WHOLELOT_TEST_MODE", "1")
		}
	})
}
