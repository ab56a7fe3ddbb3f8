// Package notify delivers human-readable messages over email, Telegram and
// chat webhooks. The auth core decides what to send; this package only
// moves bytes and reports success or failure. It never retries.
package notify
