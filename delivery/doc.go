// Package delivery sends generated summaries by email and schedules them.
//
// Mailer posts a summary to a SendGrid-compatible transactional mail API.
// Scheduler runs summarize-and-send on a cron expression; a failed tick is
// logged and the next tick runs as usual.
package delivery
