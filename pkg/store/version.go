package store

// Version information for the store module.
const (
	Version              = "1.0.0"
	MinCompatibleVersion = "1.0.0"
)
