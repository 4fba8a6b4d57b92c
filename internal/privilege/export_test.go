package privilege

import "time"

func setRefreshIntervalForTest(d time.Duration) {
	refreshInterval = d
}
