// Package queue defines the at-least-once ingestion queue used between the
// Ingester and the Consumer.
//
// Messages travel as JSON {"type": "...", "body": "..."}. Implementations:
//
//   - queue/memory: bounded in-process queue for tests and single-process runs
//   - queue/rabbitmq: durable RabbitMQ queue with publisher confirms and manual acks
//
// Each delivery is settled exactly once: Ack on success, Retry to requeue,
// Reject to drop (dead-lettered when the broker is configured for it).
package queue
