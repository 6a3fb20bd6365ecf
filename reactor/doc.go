// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor multiplexes channels over an OS poller. A Runner owns one
// poller and a disjoint set of channels; registration and interest changes
// are queued from any goroutine and applied by the loop before it waits.
// The loop can be handed to another goroutine mid-batch (leader-follower).
package reactor
