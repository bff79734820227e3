package queue

import "fmt"

// Fixed key namespace for the job queue. jobKey is a hash; the three index
// keys below are the sorted-set/set structures kept consistent with it.
const (
	scheduledIndexKey = "jobs:scheduled"
	readyIndexKey     = "jobs:ready"
	leaseIndexKey     = "jobs:lease"
)

// jobKey returns the hash key for a single job record.
func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}
