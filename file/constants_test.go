package file

import "time"

// Common test file size constants.
const (
	testFileSize1KB  = 1024
	testFileSize5000 = 5000
	testFileSize1MB  = 1024 * 1024
)

// testProgressStep advances the mock clock past the progress interval on
// every sample.
const testProgressStep = 250 * time.Millisecond
