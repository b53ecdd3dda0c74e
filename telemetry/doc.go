// Package telemetry provides atomic counters for boundary traffic and
// delivery-feed flow. A Recorder is shared by reference; every method is
// nil-safe so instrumentation can be left unwired in tests and examples.
package telemetry
