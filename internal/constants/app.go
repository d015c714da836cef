package constants

import (
	"time"
)

// Application identity
const (
	// AppName is the short binary/application name.
	AppName = "cloudlift-agent"

	// AppVendor is used for config and data directory names.
	AppVendor = "cloudlift"
)

// Queue and worker settings
const (
	// StaleClaimWindow - an in_progress record whose last status change is older
	// than this is treated as abandoned by a crashed invocation and becomes
	// claimable again on the next run.
	StaleClaimWindow = 30 * time.Minute

	// InvocationRetryBaseDelay - base delay for retrying a worker invocation
	// that failed at the store level. Doubles per attempt up to InvocationRetryMaxDelay.
	InvocationRetryBaseDelay = 2 * time.Second

	// InvocationRetryMaxDelay caps the invocation retry backoff.
	InvocationRetryMaxDelay = 5 * time.Minute

	// DefaultDaemonPollInterval - how often daemon mode wakes up to drain the
	// queue even without an explicit trigger.
	DefaultDaemonPollInterval = 5 * time.Minute
)

// Transfer settings
const (
	// TransferRetryMax - HTTP-level retries inside the DAV backend. These are
	// transparent to the queue: one executor attempt spans all of them.
	TransferRetryMax = 5

	// TransferRetryWaitMin is the minimum backoff between HTTP retries.
	TransferRetryWaitMin = 1 * time.Second

	// TransferRetryWaitMax is the maximum backoff between HTTP retries.
	TransferRetryWaitMax = 30 * time.Second

	// ProgressSampleBuffer - buffered samples per in-flight record before the
	// transfer goroutine starts dropping intermediate progress callbacks.
	ProgressSampleBuffer = 64
)

// Thumbnail settings
const (
	// ThumbnailMaxEdge - longest edge of generated thumbnails in pixels.
	ThumbnailMaxEdge = 256

	// ThumbnailQueueSize - pending thumbnail jobs before Enqueue drops new ones.
	ThumbnailQueueSize = 128
)

// Event bus settings
const (
	// EventBusDefaultBuffer is the default per-subscriber channel buffer.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer caps per-subscriber channel buffers.
	EventBusMaxBuffer = 100000
)
