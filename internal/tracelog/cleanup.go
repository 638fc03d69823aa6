package tracelog

import "time"

// CleanupInterval is how often expired entries are deleted.
const CleanupInterval = time.Hour

// runCleanupLoop calls cleanup immediately and then every CleanupInterval
// until stop is closed.
func runCleanupLoop(stop <-chan struct{}, cleanup func()) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	cleanup()
	for {
		select {
		case <-ticker.C:
			cleanup()
		case <-stop:
			return
		}
	}
}
