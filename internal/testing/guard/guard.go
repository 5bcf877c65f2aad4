// Package guard switches binaries into test mode when imported from a test,
// so calling main does not open connections.
package guard

import (
	"os"
	"sync"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
		app.RefreshTestMode()
	})
}
