package sender

// Metadata provides context for the send operation.
type Metadata struct {
	// WriteKey authenticates the source.
	WriteKey string

	// APIHost is the base URL of the collection service.
	APIHost string

	// UserAgent overrides the default User-Agent header.
	UserAgent string
}
