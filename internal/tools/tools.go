// Package tools exposes helpdesk tickets and Windows diagnostics to the agent
// as ADK function tools.
//
// Tools report operational failures to the model as output text, not as Go
// errors, so the model can explain the problem to the user instead of
// producing an empty answer.
package tools

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"itsupport/internal/freescout"
	"itsupport/internal/metrics"
	"itsupport/internal/trace"
)

// Tool names as the model sees them.
const (
	NameCreateTicket      = "create_support_ticket"
	NameTicketStatus      = "get_ticket_status"
	NameTicketByID        = "get_ticket_by_id"
	NameSystemPerformance = "get_system_performance"
	NameDiskSpace         = "check_disk_space"
	NameNetwork           = "check_network_connection"
)

// TicketStore is the part of the FreeScout store the tools use.
type TicketStore interface {
	CreateTicket(ctx context.Context, nt freescout.NewTicket) (*freescout.CreateResult, error)
	GetTicketByNumber(ctx context.Context, number int64) (*freescout.Ticket, error)
	GetTicket(ctx context.Context, id int64) (*freescout.Ticket, error)
}

// Diagnoser runs the Windows diagnostics. Each method returns a
// user-facing report; failures are reports starting with "❌".
type Diagnoser interface {
	Performance(ctx context.Context) string
	Disk(ctx context.Context) string
	Network(ctx context.Context) string
}

// Deps are the collaborators of the tool set. Tracer and Metrics may be nil.
type Deps struct {
	Tickets     TicketStore
	Diagnostics Diagnoser
	WebURL      string
	Tracer      *trace.Tracer
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Result is the standard output type for all tools.
type Result struct {
	Output string `json:"output"`
}

// Toolset holds the tool implementations.
type Toolset struct {
	deps Deps
}

// New returns a Toolset over deps.
func New(deps Deps) *Toolset {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Toolset{deps: deps}
}

// Tools builds the function tools offered to the agent.
func (s *Toolset) Tools() ([]tool.Tool, error) {
	createTicket, err := functiontool.New(functiontool.Config{
		Name: NameCreateTicket,
		Description: "Crea un ticket de soporte en el helpdesk FreeScout. Úsala cuando el usuario tenga un problema " +
			"que no puedas resolver directamente o necesite ayuda técnica especializada. Devuelve el número de ticket.",
	}, s.createSupportTicket)
	if err != nil {
		return nil, err
	}

	ticketStatus, err := functiontool.New(functiontool.Config{
		Name: NameTicketStatus,
		Description: "Consulta el estado de un ticket existente por su número. ticket_number debe ser un número entero " +
			"(1, 2, 3), nunca texto como \"1\" o \"#1\".",
	}, s.getTicketStatus)
	if err != nil {
		return nil, err
	}

	ticketByID, err := functiontool.New(functiontool.Config{
		Name:        NameTicketByID,
		Description: "Consulta un ticket por su identificador interno de FreeScout (el ID interno, no el número de ticket).",
	}, s.getTicketByID)
	if err != nil {
		return nil, err
	}

	performance, err := functiontool.New(functiontool.Config{
		Name:        NameSystemPerformance,
		Description: "Obtiene el uso de CPU y memoria RAM del equipo Windows y los procesos que más CPU consumen. Úsala cuando el usuario reporte lentitud.",
	}, s.getSystemPerformance)
	if err != nil {
		return nil, err
	}

	disk, err := functiontool.New(functiontool.Config{
		Name:        NameDiskSpace,
		Description: "Muestra el espacio usado y libre de cada unidad de disco del equipo Windows.",
	}, s.checkDiskSpace)
	if err != nil {
		return nil, err
	}

	network, err := functiontool.New(functiontool.Config{
		Name:        NameNetwork,
		Description: "Comprueba los adaptadores de red activos y la conectividad a Internet del equipo Windows.",
	}, s.checkNetworkConnection)
	if err != nil {
		return nil, err
	}

	return []tool.Tool{createTicket, ticketStatus, ticketByID, performance, disk, network}, nil
}

// record reports a finished tool call to the tracer, metrics and log.
// errMsg is empty when the call succeeded.
func (s *Toolset) record(ctx context.Context, name string, params map[string]any, output, errMsg string, start time.Time) {
	duration := time.Since(start)
	status := trace.StatusSuccess
	if errMsg != "" {
		status = trace.StatusError
	}

	s.deps.Tracer.RecordToolCall(ctx, trace.ToolCall{
		Name:       name,
		Parameters: params,
		Result:     output,
		Error:      errMsg,
	}, duration)
	s.deps.Metrics.RecordToolCall(name, status, duration)

	if errMsg != "" {
		slog.Warn("tool failed", "name", name, "ms", duration.Milliseconds(), "err", errMsg)
		return
	}
	slog.Info("tool ok", "name", name, "ms", duration.Milliseconds())
}

// failed reports whether a diagnostics report describes a failure.
func failed(report string) bool {
	return strings.HasPrefix(strings.TrimSpace(report), "❌")
}
