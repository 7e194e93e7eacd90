// Package log is the leveled logging seam shared by every capiflow
// package. Components depend on the small Logger interface, never on a
// concrete backend, so the same graph/interpreter code logs through the
// stdlib-backed DefaultLogger under test and through golog in the server
// binary.
//
// Two backends ship here:
//
//   - DefaultLogger (NewDefaultLogger / NewWriterLogger): stdlib log
//     with a level gate; the zero-configuration choice and the one
//     GetDefaultLogger falls back to.
//   - GologLogger (NewGologLogger / WrapGolog): the production backend,
//     installed once at startup via SetDefaultLogger.
//
// ForTurn wraps any Logger with a session/trace prefix; the interpreter
// applies it per node execution so concurrent sessions' interleaved lines
// stay attributable:
//
//	logger := log.NewGologLogger(log.LogLevelInfo)
//	log.SetDefaultLogger(logger)
//	turnLog := log.ForTurn(logger, sessionID, traceID)
//	turnLog.Info("routing to %s", agent)
package log
