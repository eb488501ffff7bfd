package tools

import (
	"context"
	"time"

	"google.golang.org/adk/tool"
)

// NoArgs is the argument type of tools that take no parameters.
type NoArgs struct{}

const diagnosticsDownText = "❌ Los diagnósticos del sistema no están disponibles en este equipo."

func (s *Toolset) getSystemPerformance(ctx tool.Context, _ NoArgs) (Result, error) {
	return s.diagnose(ctx, NameSystemPerformance, Diagnoser.Performance), nil
}

func (s *Toolset) checkDiskSpace(ctx tool.Context, _ NoArgs) (Result, error) {
	return s.diagnose(ctx, NameDiskSpace, Diagnoser.Disk), nil
}

func (s *Toolset) checkNetworkConnection(ctx tool.Context, _ NoArgs) (Result, error) {
	return s.diagnose(ctx, NameNetwork, Diagnoser.Network), nil
}

func (s *Toolset) diagnose(ctx context.Context, name string, run func(Diagnoser, context.Context) string) Result {
	start := time.Now()
	if s.deps.Diagnostics == nil {
		s.record(ctx, name, nil, diagnosticsDownText, "diagnostics not configured", start)
		return Result{Output: diagnosticsDownText}
	}

	report := run(s.deps.Diagnostics, ctx)
	var errMsg string
	if failed(report) {
		errMsg = report
	}
	s.record(ctx, name, nil, report, errMsg, start)
	return Result{Output: report}
}
