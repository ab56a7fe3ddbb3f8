// Package audit relays audit entries to a durable sink.
//
// # Components
//
//   - [Sink]: anything that stores an entry and returns its id. The
//     relational audit table implements it.
//   - [Dispatcher]: buffered async relay used for routine entries, with
//     drop-if-full or block-if-full semantics.
//   - [LogrusSink], [ChannelSink], [MultiSink]: log output, tests, fan-out.
//
// Security-critical entries never go through the Dispatcher. The engine
// writes them to the Sink directly and fails the operation when the write
// fails.
//
// # What this package must NOT do
//
//   - Decide which actions are critical.
//   - Import panelauth or any sibling internal package.
package audit
