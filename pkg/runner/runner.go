package runner

import (
	"bytes"
	"context"
	"io"

	"github.com/dimiro1/banner"
	"github.com/harunnryd/dgstream/pkg/recognize"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	OnStart func()
	OnStop  func()
	// OnEvent receives every recognizer event in order.
	OnEvent func(ev recognize.Event)
}

const Version = "dev"

func PrintBanner(w io.Writer) {
	tpl := "{{ .Title \"DGSTREAM\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(w, true, true, bytes.NewBufferString(tpl))
}
