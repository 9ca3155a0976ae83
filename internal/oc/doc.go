// Package oc provides the core optimal-control primitives shared by the
// trajectory optimizer.
//
// The package defines the fundamental types and interfaces:
//
//   - [State], [Input]: vectors for system state and control input
//   - [Dynamics], [Cost], [Constraints], [OperatingPoints]: the provider
//     capabilities supplied by a concrete problem
//   - [Trajectory]: a time-indexed (state, input) sequence with hybrid
//     post-event markers
//   - [LinearController]: the time-varying affine feedback law
//     u = bias + K x produced by the backward pass
//   - [ModeSchedule]: the event-time/mode sequence of the hybrid system
//
// # Thread Safety
//
// Providers are stateful and NOT safe for concurrent use. Every worker of
// the solver holds its own copies obtained through the Clone methods.
package oc
