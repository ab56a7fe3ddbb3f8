// Package internal holds helpers private to panelauth: random identifiers,
// one-time codes and human-transcribable tokens.
//
// # Sub-packages
//
//   - app — production assembly from the environment
//   - audit — entry model, sync writer and async Dispatcher
//   - memstore — in-memory repositories for tests and local runs
//   - observability — logrus setup and Sentry reporting
//   - postgres — pgx-backed repositories
//   - rate — Redis fixed-window throttles
//   - security — configured posture report
package internal
