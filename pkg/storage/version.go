package storage

// Version information for the storage module.
const (
	Version              = "1.0.0"
	MinCompatibleVersion = "1.0.0"
)
