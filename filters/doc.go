// Package filters provides reusable filterchain stages: idle timeouts,
// chunking, echo, debug logging and an adapter that runs asynctask
// exchanges with chain suspension.
package filters
