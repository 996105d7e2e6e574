// Package tproxy provides an embeddable controller for a transparent-proxy
// tunnel.
//
// The controller tracks the tunnel through Stopped, Starting, Running,
// Stopping and Error, serializes start and stop requests, and answers
// "is it running" from its own state without waiting on the tunnel.
//
// # Basic Usage
//
//	svc, err := tproxy.New(tproxy.Config{
//	    StateDir:      "/var/lib/tproxyctl",
//	    StartCommand:  []string{"systemctl", "start", "hev-socks5-tunnel"},
//	    StopCommand:   []string{"systemctl", "stop", "hev-socks5-tunnel"},
//	    StatusCommand: []string{"systemctl", "is-active", "--quiet", "hev-socks5-tunnel"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go svc.Run(ctx)
//
//	if err := svc.RequestStart(ctx); err != nil {
//	    log.Printf("start failed: %v", err)
//	}
//
// # Drivers
//
// By default the tunnel is driven by the configured commands. Use
// [WithDriver] to supply another implementation, e.g. one that talks to a
// platform VPN API.
//
// # Control Channel
//
// [Service.Handle] accepts the control channel method names startAll,
// stopAll, isTProxyRunning and refreshTProxyStatus. Unknown names fail
// with an error matching ErrUnsupportedRequest.
//
// # Event Handling
//
// Implement [EventHandler] and pass it with [WithEventHandler] to observe
// every state transition. Handlers run synchronously and must not call back
// into RequestStart or RequestStop.
package tproxy
