package diagnostics

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for the output pipe after the context
// kills the shell. Grandchildren that inherited the pipe would otherwise
// keep Wait blocked until they exit.
const waitDelay = time.Second

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, env []string) (string, error)
}

// execRunner is the production implementation that calls os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, env []string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// diagnoseShellError turns a failed PowerShell invocation into a short
// explanation for the user. ctxErr is the error of the per-query context.
func diagnoseShellError(err, ctxErr error, output string) string {
	out := strings.ToLower(output)

	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return "El comando tardó demasiado en responder y fue cancelado."
	case errors.Is(ctxErr, context.Canceled):
		return "La consulta fue cancelada."
	case errors.Is(err, exec.ErrNotFound):
		return "PowerShell no está disponible en este equipo. Estas comprobaciones solo funcionan en Windows."
	case strings.Contains(out, "is not recognized"), strings.Contains(out, "no se reconoce"):
		return "Un cmdlet necesario no está disponible en esta versión de Windows."
	case strings.Contains(out, "access is denied"), strings.Contains(out, "acceso denegado"):
		return "Permisos insuficientes para consultar el sistema."
	default:
		return "No se pudo ejecutar la consulta del sistema."
	}
}
