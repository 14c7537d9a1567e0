package services

import (
	"fmt"
	"path/filepath"

	"github.com/viorelcanja/v86-1/internal/core/domain"
)

// InvocationBuilder turns one partition into the command a worker runs.
type InvocationBuilder interface {
	Build(items []domain.WorkItem) domain.Invocation
}

// DebuggerTemplate runs the debugger in batch mode with the extraction
// script loaded, then issues one extract-state command per item.
type DebuggerTemplate struct {
	Debugger string
	Script   string
	BuildDir string
}

var _ InvocationBuilder = DebuggerTemplate{}

func (t DebuggerTemplate) Build(items []domain.WorkItem) domain.Invocation {
	args := make([]string, 0, 2+len(items))
	args = append(args, "-batch", "--command="+t.Script)
	for _, item := range items {
		args = append(args, fmt.Sprintf("--eval-command=extract-state %s %s",
			item.Input(t.BuildDir), item.Output(t.BuildDir)))
	}

	return domain.Invocation{
		Program: t.Debugger,
		Args:    args,
		Mounts:  []string{t.BuildDir, filepath.Dir(t.Script)},
	}
}
