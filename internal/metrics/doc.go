// Package metrics provides observability hooks for the build engine.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics stay optional without nil checks at call sites.
// The Prometheus implementation is activated by the daemon when the metrics
// endpoint is enabled in configuration:
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	engine := daemon.NewEngine(daemon.Options{Metrics: recorder, ...})
//
// The NoopRecorder methods inline to nothing, so a disabled deployment pays
// no collection cost.
package metrics
