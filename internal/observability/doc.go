// Package observability configures process-wide logging and error
// reporting: logrus level and format, Sentry initialisation, a Sentry
// mirror for security-critical audit entries, and HTTP recover/logging
// middleware.
package observability
