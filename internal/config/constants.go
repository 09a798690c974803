package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Delivery retry tuning. Backoff between attempts is capped exponential with
// jitter: base 1s, floor 4s from the second wait on, ceiling 10s.
const (
	RetryBackoffBase = 1 * time.Second
	RetryBackoffMin  = 4 * time.Second
	RetryBackoffMax  = 10 * time.Second
)

// Rate limiter last-send keys expire after this TTL.
const RateLimitEntryTTL = 600 * time.Second

// Wait-configured channels pause this long before retrying a denied send.
// Slightly over the default minimum interval so the retry can clear it.
const RateLimitRetryWait = 1100 * time.Millisecond

// Engagement window for pricing classification.
const MessagingWindow = 24 * time.Hour

// Per-conversation lease lock.
const (
	ConversationLockTTL     = 15 * time.Second
	ConversationLockWait    = 5 * time.Second
	ConversationLockRetryIn = 50 * time.Millisecond
)

// Conversations idle past this horizon are reset by the cleanup job.
const StaleConversationAge = 30 * 24 * time.Hour

// Delivery attempts older than this are pruned.
const DeliveryAttemptRetention = 90 * 24 * time.Hour

// Soft cap on consecutive invalid button replies before the re-prompt adds a
// help hint.
const ButtonRetrySoftCap = 5
