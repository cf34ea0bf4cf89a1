// Package telemetry bootstraps the OpenTelemetry tracer provider used by
// the tracing middleware.
//
// [Setup] installs a global provider with a batching exporter chosen by
// name: "stdout", "otlpgrpc" or "otlphttp". The "none" exporter installs a
// no-op provider. [ConfigFromEnv] reads the BPMCORE_OTEL_* variables.
package telemetry
