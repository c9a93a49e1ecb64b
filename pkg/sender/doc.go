// Package sender delivers event payloads to the collection service over HTTP.
//
// Each payload is POSTed as JSON to {APIHost}/v1/{type}, authenticated with
// the source write key as the basic-auth user name.
//
// # Usage
//
// Create an HTTP sender and adapt it to a queue deliverer:
//
//	snd := sender.NewHTTPSender(httpClient, logger)
//
//	metadata := sender.Metadata{
//	    WriteKey: "write-key",
//	    APIHost:  "https://api.example.com",
//	}
//
//	q := queue.New("event-queue", repo, sender.NewDeliverer(snd, metadata))
//
// # Custom Senders
//
// Implement the Sender interface to send to alternative destinations
// (e.g., Kafka, S3, local files).
//
// # Version
//
// Current version: 2.0.0
// Minimum compatible version: 2.0.0
//
// See version.go for version constants that can be used programmatically.
package sender
