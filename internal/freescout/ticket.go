package freescout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no conversation matches a lookup.
	ErrNotFound = errors.New("ticket not found")

	// ErrNoMailbox is returned when the database has no mailbox to file
	// tickets into.
	ErrNoMailbox = errors.New("no mailbox configured in FreeScout")
)

// CreateError reports the step of ticket creation that failed. The
// transaction has been rolled back by the time it is returned.
type CreateError struct {
	Step string
	Err  error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("create ticket: %s: %v", e.Step, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

// FreeScout column values written for tickets opened by the assistant.
const (
	conversationTypeEmail = 1
	threadTypeCustomer    = 1
	stateDraftPublished   = 2
	sourceViaCustomer     = 1
	sourceTypeAPI         = 8
	lastReplyFromCustomer = 2
	folderTypeInbox       = 1
	fallbackFolderID      = 1
	previewLength         = 100
)

// Status is a FreeScout conversation status code.
type Status int

const (
	StatusActive  Status = 1
	StatusPending Status = 2
	StatusClosed  Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusPending:
		return "Pending"
	case StatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Priority is the urgency the user asked for. FreeScout has no column for
// it, so it only affects how the ticket is reported back.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ParsePriority maps free text to a Priority. Anything unrecognised is normal.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "baja":
		return PriorityLow
	case "high", "alta", "urgent", "urgente":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Level is the numeric priority level (1 low, 2 normal, 3 high).
func (p Priority) Level() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	default:
		return 2
	}
}

// Ticket is a FreeScout conversation together with its first message.
type Ticket struct {
	ID            int64
	Number        int64
	Subject       string
	Body          string
	CustomerEmail string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StatusLabel is the English label of the ticket status.
func (t *Ticket) StatusLabel() string { return t.Status.String() }

// NewTicket is the input of CreateTicket.
type NewTicket struct {
	Subject       string
	Body          string
	CustomerEmail string
	Priority      Priority
}

// CreateResult describes a ticket that was just created.
type CreateResult struct {
	TicketID      int64
	Number        int64
	Subject       string
	CustomerEmail string
	Priority      Priority
	CreatedAt     time.Time
}

// TicketURL returns the FreeScout web link of a conversation.
func TicketURL(base string, id int64) string {
	return strings.TrimRight(base, "/") + "/conversation/" + strconv.FormatInt(id, 10)
}

// CreateTicket files a new conversation with its first customer thread in the
// first mailbox, all in one transaction.
//
// The ticket number is MAX(number)+1 for the mailbox, read inside the
// transaction. Two concurrent writers can still compute the same number;
// FreeScout itself assigns numbers the same way.
func (s *Store) CreateTicket(ctx context.Context, nt NewTicket) (*CreateResult, error) {
	if strings.TrimSpace(nt.Subject) == "" {
		return nil, &CreateError{Step: "validate", Err: errors.New("subject is empty")}
	}
	if nt.CustomerEmail == "" {
		nt.CustomerEmail = s.opts.CustomerEmail
	}
	if nt.Priority == "" {
		nt.Priority = PriorityNormal
	}

	var res *CreateResult
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return &CreateError{Step: "begin", Err: err}
		}

		res, err = s.createInTx(ctx, tx, nt)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("ticket rollback failed", "err", rbErr)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return &CreateError{Step: "commit", Err: err}
		}
		return nil
	})
	if err != nil {
		slog.Error("ticket creation failed", "subject", nt.Subject, "err", err)
		return nil, err
	}

	slog.Info("ticket created", "number", res.Number, "id", res.TicketID, "priority", string(res.Priority))
	return res, nil
}

func (s *Store) createInTx(ctx context.Context, tx *sql.Tx, nt NewTicket) (*CreateResult, error) {
	now := s.opts.Now()

	var mailboxID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM mailboxes ORDER BY id LIMIT 1`).Scan(&mailboxID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &CreateError{Step: "mailbox", Err: ErrNoMailbox}
	}
	if err != nil {
		return nil, &CreateError{Step: "mailbox", Err: err}
	}

	var folderID int64
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT id FROM folders WHERE mailbox_id = ? AND type = ? ORDER BY id LIMIT 1`),
		mailboxID, folderTypeInbox).Scan(&folderID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		folderID = fallbackFolderID
	case err != nil:
		return nil, &CreateError{Step: "folder", Err: err}
	}

	var number int64
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT COALESCE(MAX(number), 0) + 1 FROM conversations WHERE mailbox_id = ?`),
		mailboxID).Scan(&number)
	if err != nil {
		return nil, &CreateError{Step: "number", Err: err}
	}

	customerID, err := s.findOrCreateCustomer(ctx, tx, now)
	if err != nil {
		return nil, &CreateError{Step: "customer", Err: err}
	}

	conversationID, err := s.insert(ctx, tx,
		`INSERT INTO conversations (number, type, folder_id, status, state, subject,
			customer_email, preview, mailbox_id, customer_id, source_via, source_type,
			last_reply_at, last_reply_from, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		number, conversationTypeEmail, folderID, int(StatusActive), stateDraftPublished, nt.Subject,
		nt.CustomerEmail, preview(nt.Body), mailboxID, customerID, sourceViaCustomer, sourceTypeAPI,
		now, lastReplyFromCustomer, now, now)
	if err != nil {
		return nil, &CreateError{Step: "conversation", Err: err}
	}

	_, err = s.insert(ctx, tx,
		`INSERT INTO threads (conversation_id, type, status, state, body, `+s.quoteIdent("from")+`,
			customer_id, source_via, source_type, first, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, threadTypeCustomer, int(StatusActive), stateDraftPublished, nt.Body, nt.CustomerEmail,
		customerID, sourceViaCustomer, sourceTypeAPI, true, now, now)
	if err != nil {
		return nil, &CreateError{Step: "thread", Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		s.q(`UPDATE conversations SET threads_count = 1 WHERE id = ?`), conversationID); err != nil {
		return nil, &CreateError{Step: "threads_count", Err: err}
	}

	return &CreateResult{
		TicketID:      conversationID,
		Number:        number,
		Subject:       nt.Subject,
		CustomerEmail: nt.CustomerEmail,
		Priority:      nt.Priority,
		CreatedAt:     now,
	}, nil
}

func (s *Store) findOrCreateCustomer(ctx context.Context, tx *sql.Tx, now time.Time) (int64, error) {
	first, last := splitName(s.opts.CustomerName)

	var id int64
	err := tx.QueryRowContext(ctx,
		s.q(`SELECT id FROM customers WHERE first_name = ? AND last_name = ? ORDER BY id LIMIT 1`),
		first, last).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	return s.insert(ctx, tx,
		`INSERT INTO customers (first_name, last_name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		first, last, now, now)
}

// insert executes an INSERT and returns the new row id.
func (s *Store) insert(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	if s.isPostgres() {
		var id int64
		err := tx.QueryRowContext(ctx, s.q(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const ticketSelect = `SELECT c.id, c.number, c.subject, c.status, c.customer_email,
		c.created_at, c.updated_at, t.body
	FROM conversations c
	LEFT JOIN threads t ON t.conversation_id = c.id AND t.first = ?
	WHERE `

// GetTicketByNumber looks a ticket up by its user-facing number.
func (s *Store) GetTicketByNumber(ctx context.Context, number int64) (*Ticket, error) {
	return s.getTicket(ctx, "c.number = ?", number)
}

// GetTicket looks a ticket up by its internal conversation id.
func (s *Store) GetTicket(ctx context.Context, id int64) (*Ticket, error) {
	return s.getTicket(ctx, "c.id = ?", id)
}

func (s *Store) getTicket(ctx context.Context, where string, arg int64) (*Ticket, error) {
	var t *Ticket
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		var (
			subject, email sql.NullString
			body           sql.NullString
			status         sql.NullInt64
			created        sql.NullTime
			updated        sql.NullTime
			tk             Ticket
		)
		err := conn.QueryRowContext(ctx, s.q(ticketSelect+where+" ORDER BY c.id LIMIT 1"), true, arg).
			Scan(&tk.ID, &tk.Number, &subject, &status, &email, &created, &updated, &body)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("query ticket: %w", err)
		}

		tk.Subject = subject.String
		tk.CustomerEmail = email.String
		tk.Status = Status(status.Int64)
		tk.CreatedAt = created.Time
		tk.UpdatedAt = updated.Time
		tk.Body = body.String
		if strings.TrimSpace(tk.Body) == "" {
			tk.Body = "Sin descripción"
		}
		t = &tk
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func preview(body string) string {
	r := []rune(body)
	if len(r) <= previewLength {
		return body
	}
	return string(r[:previewLength])
}
