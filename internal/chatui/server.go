// Package chatui serves the browser chat interface of the assistant.
package chatui

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"itsupport/internal/agent"
	"itsupport/internal/trace"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	sessionCookie   = "itsupport_session"
	cookieMaxAge    = 30 * 24 * 60 * 60
	sessionIdleTTL  = 24 * time.Hour
	maxMessageRunes = 4000
)

// WelcomeMessage is shown when a conversation is empty.
const WelcomeMessage = "👋 ¡Hola! Soy **IT Assistant**, el asistente de soporte IT.\n\n" +
	"Puedo ayudarte a:\n" +
	"- 📚 Consultar la documentación y los procedimientos IT\n" +
	"- 🎫 Crear tickets y consultar su estado\n" +
	"- 🖥️ Diagnosticar el rendimiento, el disco y la red de tu equipo Windows\n\n" +
	"**¿En qué puedo ayudarte hoy?**"

// Examples are the suggested first questions.
var Examples = []string{
	"¿Cómo reseteo mi contraseña?",
	"¿Cómo me conecto a la VPN?",
	"No puedo acceder a FreeScout, ¿está funcionando?",
	"Mi PC va muy lento, ¿puedes revisarlo?",
	"¿Tengo poco espacio en el disco?",
	"Crea un ticket: Mi ordenador no arranca",
	"¿Cuál es el estado del ticket #1?",
	"No tengo conexión a Internet, ¿puedes comprobar la red?",
}

// Assistant answers a user message given the earlier conversation.
type Assistant interface {
	Query(ctx context.Context, message string, history []agent.Turn) string
}

// Options configures the chat server.
type Options struct {
	Assistant Assistant
	// ModelName and Knowledge are shown in the page footer.
	ModelName string
	Knowledge string
}

// Server is the chat web application.
type Server struct {
	opts     Options
	sessions *sessionStore
	md       *markdownRenderer
	engine   *gin.Engine
}

// New creates the chat server and its routes.
func New(opts Options) (*Server, error) {
	tmpl, err := template.New("").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		sessions: newSessionStore(sessionIdleTTL),
		md:       newMarkdownRenderer(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.SetHTMLTemplate(tmpl)

	engine.GET("/", s.handleIndex)
	engine.POST("/send", s.handleSend)
	engine.POST("/clear", s.handleClear)
	engine.POST("/retry", s.handleRetry)
	engine.POST("/api/chat", s.handleAPIChat)
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "itsupport"})
	})

	s.engine = engine
	return s, nil
}

// Handler returns the HTTP handler of the chat application.
func (s *Server) Handler() http.Handler { return s.engine }

// NewHTTPServer returns an HTTP server for the chat application on addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type viewMessage struct {
	Role string
	HTML template.HTML
}

type pageData struct {
	Messages  []viewMessage
	Examples  []string
	ModelName string
	Knowledge string
}

func (s *Server) handleIndex(c *gin.Context) {
	id := s.sessionID(c)
	history := s.sessions.History(id)

	messages := make([]viewMessage, 0, len(history)+1)
	if len(history) == 0 {
		messages = append(messages, viewMessage{Role: "assistant", HTML: s.md.Render(WelcomeMessage)})
	}
	for _, t := range history {
		if t.Role == "user" {
			messages = append(messages, viewMessage{Role: "user", HTML: template.HTML(template.HTMLEscapeString(t.Content))})
			continue
		}
		messages = append(messages, viewMessage{Role: "assistant", HTML: s.md.Render(t.Content)})
	}

	c.HTML(http.StatusOK, "index.html", pageData{
		Messages:  messages,
		Examples:  Examples,
		ModelName: s.opts.ModelName,
		Knowledge: s.opts.Knowledge,
	})
}

func (s *Server) handleSend(c *gin.Context) {
	id := s.sessionID(c)
	message := normalizeMessage(c.PostForm("message"))
	if message != "" {
		s.answer(c.Request.Context(), id, message)
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleClear(c *gin.Context) {
	s.sessions.Clear(s.sessionID(c))
	c.Redirect(http.StatusSeeOther, "/")
}

// handleRetry resets the conversation; it does not resend the last message.
func (s *Server) handleRetry(c *gin.Context) {
	s.sessions.Clear(s.sessionID(c))
	c.Redirect(http.StatusSeeOther, "/")
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

type chatResponse struct {
	Answer  string       `json:"answer"`
	History []agent.Turn `json:"history"`
}

func (s *Server) handleAPIChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	message := normalizeMessage(req.Message)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}

	id := s.sessionID(c)
	answer := s.answer(c.Request.Context(), id, message)
	c.JSON(http.StatusOK, chatResponse{Answer: answer, History: s.sessions.History(id)})
}

// answer runs one turn for the session and stores both messages.
func (s *Server) answer(ctx context.Context, id, message string) string {
	history := s.sessions.History(id)
	answer := s.opts.Assistant.Query(trace.WithSession(ctx, id), message, history)
	s.sessions.Append(id,
		agent.Turn{Role: "user", Content: message},
		agent.Turn{Role: "assistant", Content: answer},
	)
	return answer
}

// sessionID returns the browser's session id, issuing a cookie when the
// request has none.
func (s *Server) sessionID(c *gin.Context) string {
	if id, err := c.Cookie(sessionCookie); err == nil {
		if _, perr := uuid.Parse(id); perr == nil {
			return id
		}
	}
	id := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, id, cookieMaxAge, "/", "", false, true)
	return id
}

func normalizeMessage(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxMessageRunes {
		s = string(r[:maxMessageRunes])
	}
	return s
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"ms", time.Since(start).Milliseconds())
	}
}
