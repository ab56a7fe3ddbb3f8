// Package prometheus exposes panelauth engine counters as a client_golang
// Collector.
//
// [NewCollector] reads [panelauth.Engine.MetricsSnapshot] on every scrape.
// Counters are named panelauth_*_total and login latency is the
// panelauth_login_latency_seconds histogram. The collector is never
// registered globally: register it yourself or mount [Collector.Handler].
package prometheus
