package tools

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/adk/tool"

	"itsupport/internal/freescout"
)

const (
	maxSubjectRunes     = 100
	descriptionPreview  = 200
	ticketDateLayout    = "02/01/2006 15:04"
	ticketStoreDownText = "❌ El sistema de tickets no está disponible en este momento. Por favor, contacta directamente con IT."
)

// CreateTicketArgs defines arguments for the create_support_ticket tool.
type CreateTicketArgs struct {
	Subject     string `json:"subject" jsonschema:"Título breve y descriptivo del problema (máximo 100 caracteres)"`
	Description string `json:"description" jsonschema:"Descripción detallada del problema con toda la información recopilada"`
	Priority    string `json:"priority,omitempty" jsonschema:"Prioridad del ticket: low, normal o high. Por defecto normal"`
}

// TicketNumberArgs defines arguments for the get_ticket_status tool.
type TicketNumberArgs struct {
	TicketNumber int64 `json:"ticket_number" jsonschema:"Número del ticket como entero, por ejemplo 1 o 42"`
}

// TicketIDArgs defines arguments for the get_ticket_by_id tool.
type TicketIDArgs struct {
	TicketID int64 `json:"ticket_id" jsonschema:"Identificador interno del ticket en FreeScout"`
}

func (s *Toolset) createSupportTicket(ctx tool.Context, args CreateTicketArgs) (Result, error) {
	start := time.Now()
	subject := strings.TrimSpace(capRunes(strings.TrimSpace(args.Subject), maxSubjectRunes))
	description := strings.TrimSpace(args.Description)
	params := map[string]any{"subject": subject, "priority": args.Priority}

	fail := func(out, errMsg string) (Result, error) {
		s.record(ctx, NameCreateTicket, params, out, errMsg, start)
		return Result{Output: out}, nil
	}

	switch {
	case subject == "":
		return fail("❌ No se puede crear el ticket: falta el asunto. Pide al usuario un título breve del problema.", "empty subject")
	case description == "":
		return fail("❌ No se puede crear el ticket: falta la descripción del problema. Pide al usuario más detalles.", "empty description")
	case s.deps.Tickets == nil:
		return fail(ticketStoreDownText, "ticket store not configured")
	}

	priority := freescout.ParsePriority(args.Priority)
	res, err := s.deps.Tickets.CreateTicket(ctx, freescout.NewTicket{
		Subject:  subject,
		Body:     description,
		Priority: priority,
	})
	if err != nil {
		return fail(fmt.Sprintf("❌ Error al crear el ticket: %s. Por favor, contacta directamente con IT.", createErrorText(err)), err.Error())
	}

	s.deps.Metrics.RecordTicketCreated()
	out := s.formatCreated(res, description)
	s.record(ctx, NameCreateTicket, params, out, "", start)
	return Result{Output: out}, nil
}

func (s *Toolset) formatCreated(res *freescout.CreateResult, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ **Ticket creado correctamente**\n\n")
	fmt.Fprintf(&b, "🎫 **NÚMERO DE TICKET: #%d**\n\n", res.Number)
	fmt.Fprintf(&b, "📋 **Resumen del ticket:**\n")
	fmt.Fprintf(&b, "• **Asunto**: %s\n", res.Subject)
	fmt.Fprintf(&b, "• **ID interno**: %d\n", res.TicketID)
	fmt.Fprintf(&b, "• **Fecha de creación**: %s\n", res.CreatedAt.Format(ticketDateLayout))
	fmt.Fprintf(&b, "• **Estado**: %s\n", statusLabel(freescout.StatusActive))
	fmt.Fprintf(&b, "• **Prioridad**: %s\n\n", strings.ToUpper(string(res.Priority)))
	fmt.Fprintf(&b, "📝 **Descripción**:\n%s\n\n", truncateRunes(description, descriptionPreview))
	if s.deps.WebURL != "" {
		fmt.Fprintf(&b, "🔗 **Ver en FreeScout**: %s\n\n", freescout.TicketURL(s.deps.WebURL, res.TicketID))
	}
	fmt.Fprintf(&b, "Para consultar el estado de este ticket, pregúntame: \"¿Cuál es el estado del ticket %d?\"\n\n", res.Number)
	b.WriteString("Un técnico del equipo de IT revisará tu solicitud pronto. Recibirás actualizaciones por correo electrónico.")
	return b.String()
}

func (s *Toolset) getTicketStatus(ctx tool.Context, args TicketNumberArgs) (Result, error) {
	start := time.Now()
	params := map[string]any{"ticket_number": args.TicketNumber}

	if args.TicketNumber <= 0 {
		out := fmt.Sprintf("❌ El número de ticket debe ser un entero positivo (recibido: %d).", args.TicketNumber)
		s.record(ctx, NameTicketStatus, params, out, "invalid ticket number", start)
		return Result{Output: out}, nil
	}
	if s.deps.Tickets == nil {
		s.record(ctx, NameTicketStatus, params, ticketStoreDownText, "ticket store not configured", start)
		return Result{Output: ticketStoreDownText}, nil
	}

	t, err := s.deps.Tickets.GetTicketByNumber(ctx, args.TicketNumber)
	out, errMsg := s.lookupResult(t, err, fmt.Sprintf("el ticket #%d", args.TicketNumber))
	s.record(ctx, NameTicketStatus, params, out, errMsg, start)
	return Result{Output: out}, nil
}

func (s *Toolset) getTicketByID(ctx tool.Context, args TicketIDArgs) (Result, error) {
	start := time.Now()
	params := map[string]any{"ticket_id": args.TicketID}

	if args.TicketID <= 0 {
		out := fmt.Sprintf("❌ El ID interno debe ser un entero positivo (recibido: %d).", args.TicketID)
		s.record(ctx, NameTicketByID, params, out, "invalid ticket id", start)
		return Result{Output: out}, nil
	}
	if s.deps.Tickets == nil {
		s.record(ctx, NameTicketByID, params, ticketStoreDownText, "ticket store not configured", start)
		return Result{Output: ticketStoreDownText}, nil
	}

	t, err := s.deps.Tickets.GetTicket(ctx, args.TicketID)
	out, errMsg := s.lookupResult(t, err, fmt.Sprintf("ningún ticket con ID interno %d", args.TicketID))
	s.record(ctx, NameTicketByID, params, out, errMsg, start)
	return Result{Output: out}, nil
}

// lookupResult renders a lookup outcome. A missing ticket is a successful
// call with a "not found" answer.
func (s *Toolset) lookupResult(t *freescout.Ticket, err error, what string) (out, errMsg string) {
	switch {
	case errors.Is(err, freescout.ErrNotFound):
		return fmt.Sprintf("❌ No se encontró %s. Verifica el número e intenta nuevamente.", what), ""
	case err != nil:
		return "❌ Error al consultar el ticket. Inténtalo de nuevo más tarde o contacta directamente con IT.", err.Error()
	}
	return s.formatTicket(t), ""
}

func (s *Toolset) formatTicket(t *freescout.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 **Estado del ticket #%d**:\n\n", t.Number)
	fmt.Fprintf(&b, "%s **Estado**: %s\n", statusEmoji(t.Status), statusLabel(t.Status))
	fmt.Fprintf(&b, "📌 **Asunto**: %s\n", t.Subject)
	fmt.Fprintf(&b, "📝 **Descripción**: %s\n", t.Body)
	fmt.Fprintf(&b, "📧 **Email**: %s\n", t.CustomerEmail)
	fmt.Fprintf(&b, "⏰ **Creado**: %s\n", formatTime(t.CreatedAt))
	fmt.Fprintf(&b, "🔄 **Última actualización**: %s\n", formatTime(t.UpdatedAt))
	if s.deps.WebURL != "" {
		fmt.Fprintf(&b, "\n🔗 Ver detalles completos: %s\n", freescout.TicketURL(s.deps.WebURL, t.ID))
	}
	return b.String()
}

// statusLabel is the Spanish label shown to users.
func statusLabel(st freescout.Status) string {
	switch st {
	case freescout.StatusActive:
		return "Activo"
	case freescout.StatusPending:
		return "Pendiente"
	case freescout.StatusClosed:
		return "Cerrado"
	default:
		return "Desconocido"
	}
}

func statusEmoji(st freescout.Status) string {
	switch st {
	case freescout.StatusActive:
		return "🔵"
	case freescout.StatusPending:
		return "🟡"
	case freescout.StatusClosed:
		return "🟢"
	default:
		return "⚪"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "desconocida"
	}
	return t.Format(ticketDateLayout)
}

// createErrorText describes a creation failure without leaking SQL.
func createErrorText(err error) string {
	var ce *freescout.CreateError
	switch {
	case errors.Is(err, freescout.ErrNoMailbox):
		return "no hay ningún buzón configurado en FreeScout"
	case errors.As(err, &ce) && ce.Step == "validate":
		return "datos del ticket no válidos"
	case errors.As(err, &ce):
		return fmt.Sprintf("fallo en la base de datos (paso %s)", ce.Step)
	default:
		return "error desconocido"
	}
}

func capRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func truncateRunes(s string, n int) string {
	if capped := capRunes(s, n); capped != s {
		return strings.TrimSpace(capped) + "..."
	}
	return s
}
