// Package domain contains the core types of the tunnel lifecycle.
//
// It has no dependencies on infrastructure concerns and holds only the
// lifecycle vocabulary shared by the controller and its adapters.
//
//   - [Phase]: Stopped, Starting, Running, Stopping, Error
//   - [TunnelState]: phase, last error and generation counter
//   - Sentinel errors and [DriverError]
package domain
