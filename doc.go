// Package svctree supervises a tree of services sharing one process.
//
// A Service has a name, an ordered list of child services, a state machine
// and a Spawner owning its concurrent tasks. Types with behaviour embed
// *Service and implement the hook interfaces they need:
//
//	type Server struct {
//	    *svctree.Service
//	    ln net.Listener
//	}
//
//	func (s *Server) OnStart(ctx context.Context) error {
//	    ln, err := net.Listen("tcp", ":8080")
//	    if err != nil {
//	        return err
//	    }
//	    s.ln = ln
//	    _, err = s.Spawn(s.accept)
//	    return err
//	}
//
//	srv := &Server{}
//	srv.Service = svctree.New("server", srv)
//	root := svctree.New("root", nil)
//	root.AddService(srv)
//	err := root.ServeForever(ctx)
//
// # Lifecycle
//
// Start fires start_services, starts the spawner, starts every child in add
// order, fires services_started, runs OnStart and finally fires ready. Stop
// runs the reverse: children stop last-added first, then OnStop runs if the
// service had become ready, then its tasks are stopped. The states are
//
//	init -> starting:services -> starting -> ready
//	     -> stopping:services -> stopping -> stopped -> starting:services ...
//
// and firing an event from a state that does not allow it returns an error
// wrapping ErrInvalidTransition without changing anything. Only ready and
// stopped can be waited on.
//
// OnStart may return ErrNotReady to defer readiness; the service then calls
// SetReady when it is available. Start waits for that up to the start timeout
// and returns a *StartTimeoutError if it does not happen. A parent carries on
// when a child times out.
//
// # Tasks
//
// Spawn and SpawnLater run functions on the service's Spawner. Stopping a
// service closes Stopping(ctx) in its tasks, waits for the grace period,
// cancels their contexts and waits once more before abandoning whatever is
// left with a *ForcedTerminationError. Task errors go to handlers registered
// with Catch or CatchAs and are logged otherwise.
//
// # Processes
//
// Process wraps an application service with the pieces a long running
// program needs: a pidfile, umask and working directory, signal handling,
// configuration reload from the config package, a status file and an
// optional Prometheus endpoint. The svctree command runs processes and
// controls them through their pidfile.
//
// # Manager for Bulk Operations
//
// The Manager type starts, stops and reloads several independent trees
// concurrently with bounded concurrency and per-operation timeouts.
//
//	manager := svctree.NewManager(
//	    svctree.WithConcurrency(5),
//	    svctree.WithTimeout(10 * time.Second),
//	)
//	err = manager.Start(ctx, web, worker, cache)
package svctree
