// Package shutdown stops the failsafe binaries in a fixed order.
//
// Components register a Handler in one of four phases: PhaseIngress,
// PhaseSessions, PhaseBackends and PhaseTelemetry. Phases run in ascending
// order; handlers in one phase run concurrently. The whole sequence shares
// one deadline.
//
//	coord, _ := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.RegisterFunc("http", shutdown.PhaseIngress, httpServer.Shutdown)
//	coord.RegisterFunc("tracing", shutdown.PhaseTelemetry, provider.Shutdown)
//	coord.HandleSignals()
//	<-coord.Done()
//
// On the client, stopping the session in PhaseSessions disarms the
// watchdog, so an operator's Ctrl-C never runs the break commands.
package shutdown
