// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded readiness-notification
// loop driving the descriptor-exchange retry path: one-shot read/write
// interest registration with optional deadlines, implemented over
// epoll on Linux.
package reactor
