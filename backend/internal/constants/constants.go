package constants

import "time"

// Server constants
const (
	// ShutdownTimeout bounds how long in-flight requests get to finish on SIGINT/SIGTERM
	ShutdownTimeout = 5 * time.Second

	// ReadHeaderTimeout protects the listener against slow clients
	ReadHeaderTimeout = 10 * time.Second
)

// kgctl constants
const (
	// DefaultGraphFile is where kgctl reads and writes the graph when --graph is not given
	DefaultGraphFile = "kg.json"

	// DefaultSessionID tags checkpoints made from the command line
	DefaultSessionID = "kgctl"

	// MaxConcurrentReads caps the number of input files read at once
	MaxConcurrentReads = 8
)
