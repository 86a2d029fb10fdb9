// Package audit carries the one structured record produced for every
// admission attempt on a measurement log, and the sinks that receive it.
//
// Sinks:
//   - ZapSink: structured log line per record.
//   - MetricsSink: Prometheus counters by cause and result.
//   - RedisSink: publishes each record and keeps a capped per-namespace list.
//   - PostgresSink: durable archive, queried by namespace.
//   - WebhookSink: signed POST of flagged records to an external evaluator.
//   - MemorySink: in-process, bounded; serves recent records without Redis.
//
// Multi fans a record out to several sinks.
package audit
