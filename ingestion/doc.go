// Package ingestion moves inbound email from the mail boundary into the
// message store and vector index.
//
// The Ingester parses a raw message and publishes a QueuedMessage; it returns
// only once the queue has accepted the message, and reports enqueue failures
// as ErrEnqueueFailed.
//
// The Consumer drains the queue batch by batch. Each message in a batch runs
// independently on a worker pool:
//   - Decode the payload; malformed payloads are rejected, unknown types are skipped
//   - Optionally check the dedup marker and skip redeliveries
//   - Insert into the message store; failures are requeued for redelivery
//   - Embed the text and upsert the vector under the stored message's id
//
// Embedding or upsert failures after a successful insert leave a stored but
// unindexed message. They are logged and the message is acknowledged; the
// reindex package repairs the gap later.
package ingestion
