package service

import (
	"github.com/andersenlabs/brtrace/pkg/controller"
	"github.com/andersenlabs/brtrace/pkg/memory"
	"github.com/andersenlabs/brtrace/pkg/registry"
	"github.com/andersenlabs/brtrace/pkg/ring"
	"github.com/andersenlabs/brtrace/pkg/veh"
)

// Context is the Go analogue of a TracerContext attached to a single
// process: its active-trace registry, trace controller, vectored
// exception dispatcher and shared output ring, plus (for a process
// being inspected from the outside) a remote memory handle.
//
// A Context attached to the current process (ProcessID == -1, or
// ProcessID == os.Getpid()) has Dispatcher/Controller/Registry/Ring all
// populated and running. A Context attached to a foreign process only
// has Remote populated, and StartTrace/StopTrace on it always fail;
// tracer code injected into that process attaches there with its own
// pid -1 call, which produces a separate Context inside the target.
type Context struct {
	ProcessID int32

	Registry   *registry.Registry
	Controller *controller.Controller
	Dispatcher *veh.Dispatcher
	Ring       *ring.Ring
	Region     *ring.SharedRegion

	Remote *memory.Remote
}

// IsLocal reports whether this context can start and stop traces
// directly, i.e. its code is running inside the process it describes.
func (c *Context) IsLocal() bool {
	return c.Controller != nil
}
