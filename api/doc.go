// Package api holds the wire types of the NarraFlow HTTP API.
//
// NarraFlow provides a RESTful API for:
//   - Submitting narration runs and polling their state
//   - Streaming run progress events over WebSocket
//   - Listing configured providers (keys redacted)
//   - Health monitoring and metrics
//
// # Authentication
//
// When API keys are configured, endpoints under /v1 require the
// X-API-Key header:
//
//	X-API-Key: your-api-key
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
