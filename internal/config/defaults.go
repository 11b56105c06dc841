// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: Installation parameters are fixed at startup and immutable
// afterwards; every default that appears in more than one place is named
// here.
package config

import "time"

// DefaultPort is the local port all rewritten requests target.
const DefaultPort = 8000

// DefaultSentinel is the local sentinel hostname the replay server binds.
const DefaultSentinel = "localhost"

// DefaultNamespace is the path prefix distinguishing rewritten paths from
// control paths. A rewritten URL looks like /srv/example.com/a.png.
const DefaultNamespace = "srv"

// DefaultBlackholePort is where the blackhole proxy listens when enabled.
const DefaultBlackholePort = 8001

// DefaultStorePath keeps the archive index in memory unless configured
// otherwise.
const DefaultStorePath = ":memory:"

// DefaultReadTimeout bounds slow request reads.
const DefaultReadTimeout = 30 * time.Second

// DefaultWriteTimeout is generous because recorded bodies can be large and
// the event feed is long-lived.
const DefaultWriteTimeout = 10 * time.Minute

// DefaultShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
const DefaultShutdownTimeout = 5 * time.Second

// DefaultLogMaxSizeMB is the rotation threshold for the optional log file.
const DefaultLogMaxSizeMB = 50

// DefaultLogMaxBackups is how many rotated log files are kept.
const DefaultLogMaxBackups = 3

// MaxEventBacklog bounds the per-subscriber event feed buffer.
const MaxEventBacklog = 256
