// Package notifier delivers due reminders to their chats.
//
// Deliver is synchronous so the dispatcher can decide whether an occurrence
// counts as delivered. Sends are rate limited and retried with jittered
// exponential backoff; a per-task dedup window absorbs a repeat delivery of
// an occurrence whose delivered flag failed to persist.
package notifier
