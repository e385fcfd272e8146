package common

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	instanceID   string
	instanceOnce sync.Once
)

// InstanceID returns a stable identifier for this process, used as the
// owner of job locks. Stable for the process lifetime, unique across
// restarts.
func InstanceID() string {
	instanceOnce.Do(func() {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "tessera"
		}
		instanceID = fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
	})
	return instanceID
}
