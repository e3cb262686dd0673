// Package httpapi exposes stored messages, summaries, search and inbound mail
// over HTTP using fiber.
//
// Routes:
//
//	GET  /          messages stored in the last 24 hours, as a JSON array
//	POST /inbound   raw RFC 5322 message; X-Mail-From and X-Mail-To headers
//	GET  /search    similarity search, ?q=<text>&limit=<n>
//	GET  /metrics   prometheus exposition
//	GET  /healthz   liveness
//
// Any other path returns a fresh summary as {"summary": "..."}.
package httpapi
