package freescout

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "freescout.db")
	store, err := Open("sqlite", dsn, Options{
		CustomerName:  "Usuario IT",
		CustomerEmail: "usuario@empresa.local",
		Now:           func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.InitSchema(context.Background(), "Soporte", "soporte@empresa.local"); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return store
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestCreateTicket_AssignsSequentialNumbers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateTicket(ctx, NewTicket{Subject: "VPN caída", Body: "No conecta la VPN desde casa"})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	second, err := store.CreateTicket(ctx, NewTicket{Subject: "Impresora", Body: "No imprime", Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	if first.Number != 1 || second.Number != 2 {
		t.Errorf("numbers = %d, %d, want 1, 2", first.Number, second.Number)
	}
	if first.CustomerEmail != "usuario@empresa.local" {
		t.Errorf("CustomerEmail = %q, want configured default", first.CustomerEmail)
	}
	if first.Priority != PriorityNormal || second.Priority != PriorityHigh {
		t.Errorf("priorities = %q, %q", first.Priority, second.Priority)
	}
	if !first.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %v, want %v", first.CreatedAt, fixedNow)
	}

	if got := countRows(t, store, "customers"); got != 1 {
		t.Errorf("customers = %d, want 1 (reused)", got)
	}
	if got := countRows(t, store, "threads"); got != 2 {
		t.Errorf("threads = %d, want 2", got)
	}

	var threadsCount, folderID int
	var preview string
	err = store.db.QueryRow(`SELECT threads_count, folder_id, preview FROM conversations WHERE id = ?`, first.TicketID).
		Scan(&threadsCount, &folderID, &preview)
	if err != nil {
		t.Fatalf("query conversation: %v", err)
	}
	if threadsCount != 1 {
		t.Errorf("threads_count = %d, want 1", threadsCount)
	}
	if folderID != 1 {
		t.Errorf("folder_id = %d, want the seeded inbox", folderID)
	}
	if preview != "No conecta la VPN desde casa" {
		t.Errorf("preview = %q", preview)
	}

	var from string
	var isFirst bool
	err = store.db.QueryRow(`SELECT "from", first FROM threads WHERE conversation_id = ?`, first.TicketID).Scan(&from, &isFirst)
	if err != nil {
		t.Fatalf("query thread: %v", err)
	}
	if from != "usuario@empresa.local" || !isFirst {
		t.Errorf("thread from=%q first=%v", from, isFirst)
	}
}

func TestCreateTicket_ThenLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.CreateTicket(ctx, NewTicket{Subject: "Mi ordenador no arranca", Body: "Pantalla negra al encender"})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	byNumber, err := store.GetTicketByNumber(ctx, res.Number)
	if err != nil {
		t.Fatalf("GetTicketByNumber: %v", err)
	}
	if byNumber.Subject != "Mi ordenador no arranca" {
		t.Errorf("Subject = %q", byNumber.Subject)
	}
	if byNumber.Body != "Pantalla negra al encender" {
		t.Errorf("Body = %q", byNumber.Body)
	}
	if byNumber.Status != StatusActive || byNumber.StatusLabel() != "Active" {
		t.Errorf("Status = %v (%s), want Active", byNumber.Status, byNumber.StatusLabel())
	}
	if !byNumber.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %v, want %v", byNumber.CreatedAt, fixedNow)
	}

	byID, err := store.GetTicket(ctx, res.TicketID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if byID.Number != res.Number {
		t.Errorf("GetTicket number = %d, want %d", byID.Number, res.Number)
	}
}

func TestGetTicketByNumber_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTicketByNumber(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetTicket_EmptyBodyAndUnknownStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.CreateTicket(ctx, NewTicket{Subject: "Sin texto"})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if _, err := store.db.Exec(`UPDATE conversations SET status = 7 WHERE id = ?`, res.TicketID); err != nil {
		t.Fatal(err)
	}

	tk, err := store.GetTicketByNumber(ctx, res.Number)
	if err != nil {
		t.Fatalf("GetTicketByNumber: %v", err)
	}
	if tk.Body != "Sin descripción" {
		t.Errorf("Body = %q, want placeholder", tk.Body)
	}
	if tk.StatusLabel() != "Unknown" {
		t.Errorf("StatusLabel() = %q, want Unknown", tk.StatusLabel())
	}
}

func TestCreateTicket_RollsBackOnThreadFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.db.Exec(`DROP TABLE threads`); err != nil {
		t.Fatal(err)
	}

	_, err := store.CreateTicket(ctx, NewTicket{Subject: "Fallará", Body: "x"})
	var ce *CreateError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CreateError", err)
	}
	if ce.Step != "thread" {
		t.Errorf("Step = %q, want thread", ce.Step)
	}

	if got := countRows(t, store, "conversations"); got != 0 {
		t.Errorf("conversations = %d after rollback, want 0", got)
	}
	if got := countRows(t, store, "customers"); got != 0 {
		t.Errorf("customers = %d after rollback, want 0", got)
	}
}

func TestCreateTicket_NoMailbox(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.db.Exec(`DELETE FROM mailboxes`); err != nil {
		t.Fatal(err)
	}

	_, err := store.CreateTicket(context.Background(), NewTicket{Subject: "Hola", Body: "x"})
	if !errors.Is(err, ErrNoMailbox) {
		t.Errorf("err = %v, want ErrNoMailbox", err)
	}
}

func TestCreateTicket_FolderFallback(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.db.Exec(`DELETE FROM folders`); err != nil {
		t.Fatal(err)
	}

	res, err := store.CreateTicket(context.Background(), NewTicket{Subject: "Hola", Body: "x"})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	var folderID int
	if err := store.db.QueryRow(`SELECT folder_id FROM conversations WHERE id = ?`, res.TicketID).Scan(&folderID); err != nil {
		t.Fatal(err)
	}
	if folderID != fallbackFolderID {
		t.Errorf("folder_id = %d, want %d", folderID, fallbackFolderID)
	}
}

func TestCreateTicket_EmptySubject(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateTicket(context.Background(), NewTicket{Subject: "  ", Body: "x"})
	var ce *CreateError
	if !errors.As(err, &ce) || ce.Step != "validate" {
		t.Errorf("err = %v, want validate CreateError", err)
	}
}

func TestInitSchema_IsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.InitSchema(context.Background(), "Otro", "otro@empresa.local"); err != nil {
		t.Fatalf("second InitSchema: %v", err)
	}
	if got := countRows(t, store, "mailboxes"); got != 1 {
		t.Errorf("mailboxes = %d, want 1", got)
	}
}

func TestInitSchema_RejectsMySQL(t *testing.T) {
	store, err := Open("mysql", "user:pass@tcp(127.0.0.1:1)/freescout", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.InitSchema(context.Background(), "x", "y"); err == nil {
		t.Error("InitSchema on mysql should fail")
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open("oracle", "dsn", Options{}); err == nil {
		t.Error("unknown driver should fail")
	}
	if _, err := Open("mysql", "", Options{}); err == nil {
		t.Error("empty DSN should fail")
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusActive, "Active"},
		{StatusPending, "Pending"},
		{StatusClosed, "Closed"},
		{Status(0), "Unknown"},
		{Status(4), "Unknown"},
		{Status(-1), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tt.status), got, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in        string
		want      Priority
		wantLevel int
	}{
		{"low", PriorityLow, 1},
		{"Baja", PriorityLow, 1},
		{"normal", PriorityNormal, 2},
		{"", PriorityNormal, 2},
		{"whatever", PriorityNormal, 2},
		{"HIGH", PriorityHigh, 3},
		{"urgente", PriorityHigh, 3},
	}
	for _, tt := range tests {
		got := ParsePriority(tt.in)
		if got != tt.want || got.Level() != tt.wantLevel {
			t.Errorf("ParsePriority(%q) = %q (level %d), want %q (level %d)", tt.in, got, got.Level(), tt.want, tt.wantLevel)
		}
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT id FROM conversations WHERE mailbox_id = ? AND number = ?"
	if got := rebind(false, q); got != q {
		t.Errorf("rebind(false) changed query: %q", got)
	}
	want := "SELECT id FROM conversations WHERE mailbox_id = $1 AND number = $2"
	if got := rebind(true, q); got != want {
		t.Errorf("rebind(true) = %q, want %q", got, want)
	}
}

func TestTicketURL(t *testing.T) {
	tests := []struct {
		base string
		id   int64
		want string
	}{
		{"http://localhost:8080", 12, "http://localhost:8080/conversation/12"},
		{"https://help.example.com/", 3, "https://help.example.com/conversation/3"},
	}
	for _, tt := range tests {
		if got := TicketURL(tt.base, tt.id); got != tt.want {
			t.Errorf("TicketURL(%q, %d) = %q, want %q", tt.base, tt.id, got, tt.want)
		}
	}
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("ñ", 150)
	if got := []rune(preview(long)); len(got) != previewLength {
		t.Errorf("preview length = %d runes, want %d", len(got), previewLength)
	}
	if got := preview("corto"); got != "corto" {
		t.Errorf("preview(short) = %q", got)
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, first, last string
	}{
		{"Usuario IT", "Usuario", "IT"},
		{"Ana", "Ana", ""},
		{"  María José  García López ", "María", "José García López"},
		{"", "", ""},
	}
	for _, tt := range tests {
		first, last := splitName(tt.in)
		if first != tt.first || last != tt.last {
			t.Errorf("splitName(%q) = %q, %q, want %q, %q", tt.in, first, last, tt.first, tt.last)
		}
	}
}
