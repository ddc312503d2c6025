package haltty

import "os"

// roleStub and roleSlaveStop are the two re-exec roles this package
// dispatches into. A Go process cannot fork() safely (the runtime assumes
// live OS threads and a garbage collector survive the call), so wherever
// spec.md's "fork, then run a few syscalls before exec" shape is needed,
// haltty instead re-execs the current binary with a distinguished Args[0]
// and lets Init route into a tiny role-specific entry point — the same
// pattern used throughout container and job-control tooling in the Go
// ecosystem (register a name, dispatch on it before main does anything
// else).
const (
	roleStub      = "haltty-stub"
	roleSlaveStop = "haltty-slave-stop"
)

var roles = map[string]func(){
	roleStub:      runStubRole,
	roleSlaveStop: runSlaveStopRole,
}

// Init must be the first thing an embedding program's main() calls. If the
// current process was re-exec'd into one of haltty's internal roles, Init
// runs that role and never returns (the role either execs a different
// program or calls os.Exit itself). Otherwise Init returns immediately and
// the embedding program's normal main proceeds; Spawn is what re-execs the
// binary into those roles in the first place.
func Init() {
	if len(os.Args) == 0 {
		return
	}
	if fn, ok := roles[os.Args[0]]; ok {
		fn()
		os.Exit(1) // unreachable unless the role forgot to exec or exit
	}
}
