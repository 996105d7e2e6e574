// Package ports defines the interfaces that connect the lifecycle
// controller to infrastructure adapters.
//
// # Port Interfaces
//
//   - [Driver]: starts, stops and probes the external tunnel process
//   - [StateRecorder]: persists lifecycle snapshots
//
// The application layer (internal/app) depends only on these interfaces.
// Adapters under internal/adapters provide the concrete implementations
// (command execution, file system).
package ports
