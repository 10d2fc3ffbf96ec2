package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("KITLEDGER_TEST_MODE") == "" {
			_ = os.Setenv("KITLEDGER_TEST_MODE", "1")
		}
	})
}
