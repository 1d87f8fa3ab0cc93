// Package metrics defines Prometheus metrics for the observastack session core,
// covering API transport requests, retries and latency, token refreshes and
// token store write failures.
package metrics
