// Package reindex repairs partial ingestion by embedding stored messages that
// have no entry in the vector index.
//
// The queue consumer acknowledges a message once it is stored, even when the
// embedding call or the index upsert fails. Such messages stay out of search
// results until a Sweeper finds them, embeds them in batches with retry and
// exponential backoff, normalizes the vectors and upserts them.
//
// The retry helpers are shared with other outbound calls such as the
// summary mailer.
package reindex
