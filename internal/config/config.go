// Package config loads the IT support assistant settings from the
// environment, an optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting of the assistant.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Tickets   TicketsConfig   `yaml:"tickets"`
	RAG       RAGConfig       `yaml:"rag"`
	Diag      DiagConfig      `yaml:"diagnostics"`
	UI        UIConfig        `yaml:"ui"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Debug     bool            `yaml:"debug"`
}

// ModelConfig configures the hosted LLM and the agent loop around it.
type ModelConfig struct {
	Vendor        string        `yaml:"vendor"`
	Name          string        `yaml:"name"`
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	MaxIterations int           `yaml:"max_iterations"`
	TurnTimeout   time.Duration `yaml:"turn_timeout"`
}

// TicketsConfig configures the FreeScout database integration.
type TicketsConfig struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Database      string `yaml:"database"`
	WebURL        string `yaml:"web_url"`
	CustomerEmail string `yaml:"customer_email"`
	CustomerName  string `yaml:"customer_name"`
}

// RAGConfig configures the document index and retrieval.
type RAGConfig struct {
	Backend          string        `yaml:"backend"`
	Path             string        `yaml:"path"`
	Collection       string        `yaml:"collection"`
	ChromaURL        string        `yaml:"chroma_url"`
	EmbeddingModel   string        `yaml:"embedding_model"`
	EmbeddingAPIKey  string        `yaml:"embedding_api_key"`
	ChunkSize        int           `yaml:"chunk_size"`
	ChunkOverlap     int           `yaml:"chunk_overlap"`
	TopK             int           `yaml:"top_k"`
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout"`
}

// DiagConfig configures the system diagnostics tools.
type DiagConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Shell   string        `yaml:"shell"`
}

// UIConfig configures the chat web UI.
type UIConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures optional metrics and trace collection.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	TraceURL    string `yaml:"trace_url"`
	TraceDSN    string `yaml:"trace_dsn"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Model: ModelConfig{
			Vendor:        "groq",
			Name:          "llama-3.3-70b-versatile",
			Temperature:   0.3,
			MaxTokens:     2048,
			MaxIterations: 8,
			TurnTimeout:   90 * time.Second,
		},
		Tickets: TicketsConfig{
			Driver:        "mysql",
			Host:          "localhost",
			Port:          3306,
			User:          "freescout",
			Password:      "freescout_password",
			Database:      "freescout",
			WebURL:        "http://localhost:8080",
			CustomerEmail: "usuario@empresa.local",
			CustomerName:  "Usuario IT",
		},
		RAG: RAGConfig{
			Backend:          "local",
			Path:             "./data/index.db",
			Collection:       "manual_it",
			ChromaURL:        "http://localhost:8000",
			EmbeddingModel:   "text-embedding-004",
			ChunkSize:        500,
			ChunkOverlap:     50,
			TopK:             2,
			RetrievalTimeout: 10 * time.Second,
		},
		Diag: DiagConfig{
			Timeout: 5 * time.Second,
			Shell:   "powershell",
		},
		UI: UIConfig{
			Addr: "0.0.0.0:7860",
		},
	}
}

// Load reads .env (if present), the YAML file named by ITSUPPORT_CONFIG (if
// set) and the environment, in increasing order of precedence, and validates
// the result.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation. Tools that only need part of the
// configuration (the indexer) validate what they use themselves.
func Read() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path := os.Getenv("ITSUPPORT_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load for main packages: it exits the process when the
// configuration is unusable.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// envReader accumulates parse errors so that every bad value is reported at once.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (r *envReader) lookup(names ...string) (string, string, bool) {
	for _, name := range names {
		if v := strings.TrimSpace(r.getenv(name)); v != "" {
			return name, v, true
		}
	}
	return "", "", false
}

func (r *envReader) str(dst *string, names ...string) {
	if _, v, ok := r.lookup(names...); ok {
		*dst = v
	}
}

func (r *envReader) integer(dst *int, names ...string) {
	name, v, ok := r.lookup(names...)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", name, v))
		return
	}
	*dst = n
}

func (r *envReader) float(dst *float64, names ...string) {
	name, v, ok := r.lookup(names...)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a number", name, v))
		return
	}
	*dst = f
}

func (r *envReader) duration(dst *time.Duration, names ...string) {
	name, v, ok := r.lookup(names...)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare integers are seconds.
		secs, convErr := strconv.Atoi(v)
		if convErr != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %q is not a duration", name, v))
			return
		}
		d = time.Duration(secs) * time.Second
	}
	*dst = d
}

func (r *envReader) boolean(dst *bool, names ...string) {
	name, v, ok := r.lookup(names...)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a boolean", name, v))
		return
	}
	*dst = b
}

func (c *Config) applyEnv(getenv func(string) string) error {
	r := &envReader{getenv: getenv}

	r.str(&c.Model.Vendor, "ITSUPPORT_MODEL_VENDOR")
	r.str(&c.Model.Name, "ITSUPPORT_MODEL_NAME", "LLM_MODEL")
	r.str(&c.Model.APIKey, "ITSUPPORT_API_KEY", "GROQ_API_KEY")
	r.str(&c.Model.BaseURL, "ITSUPPORT_MODEL_BASE_URL")
	r.float(&c.Model.Temperature, "ITSUPPORT_TEMPERATURE", "LLM_TEMPERATURE")
	r.integer(&c.Model.MaxTokens, "ITSUPPORT_MAX_TOKENS", "LLM_MAX_TOKENS")
	r.integer(&c.Model.MaxIterations, "ITSUPPORT_MAX_ITERATIONS")
	r.duration(&c.Model.TurnTimeout, "ITSUPPORT_TURN_TIMEOUT")

	r.str(&c.Tickets.Driver, "ITSUPPORT_DB_DRIVER")
	r.str(&c.Tickets.DSN, "ITSUPPORT_DB_DSN")
	r.str(&c.Tickets.Host, "MYSQL_HOST")
	r.integer(&c.Tickets.Port, "MYSQL_PORT")
	r.str(&c.Tickets.User, "MYSQL_USER")
	r.str(&c.Tickets.Password, "MYSQL_PASSWORD")
	r.str(&c.Tickets.Database, "MYSQL_DATABASE")
	r.str(&c.Tickets.WebURL, "FREESCOUT_URL")
	r.str(&c.Tickets.CustomerEmail, "DEFAULT_CUSTOMER_EMAIL")
	r.str(&c.Tickets.CustomerName, "DEFAULT_CUSTOMER_NAME")

	r.str(&c.RAG.Backend, "ITSUPPORT_VECTOR_BACKEND")
	r.str(&c.RAG.Path, "CHROMA_DIR")
	r.str(&c.RAG.Collection, "CHROMA_COLLECTION_NAME")
	r.str(&c.RAG.ChromaURL, "CHROMA_URL")
	r.str(&c.RAG.EmbeddingModel, "EMBEDDING_MODEL")
	r.str(&c.RAG.EmbeddingAPIKey, "ITSUPPORT_EMBEDDING_API_KEY", "GEMINI_API_KEY")
	r.integer(&c.RAG.ChunkSize, "CHUNK_SIZE")
	r.integer(&c.RAG.ChunkOverlap, "CHUNK_OVERLAP")
	r.integer(&c.RAG.TopK, "RAG_TOP_K")
	r.duration(&c.RAG.RetrievalTimeout, "ITSUPPORT_RETRIEVAL_TIMEOUT")

	r.duration(&c.Diag.Timeout, "ITSUPPORT_DIAG_TIMEOUT")
	r.str(&c.Diag.Shell, "ITSUPPORT_DIAG_SHELL")

	r.str(&c.UI.Addr, "ITSUPPORT_UI_ADDR")
	if getenv("ITSUPPORT_UI_ADDR") == "" {
		host, port := getenv("GRADIO_SERVER_NAME"), getenv("GRADIO_SERVER_PORT")
		if host != "" || port != "" {
			defHost, defPort, _ := net.SplitHostPort(c.UI.Addr)
			if host == "" {
				host = defHost
			}
			if port == "" {
				port = defPort
			}
			c.UI.Addr = net.JoinHostPort(host, port)
		}
	}

	r.str(&c.Telemetry.MetricsAddr, "ITSUPPORT_METRICS_ADDR")
	r.str(&c.Telemetry.TraceURL, "ITSUPPORT_TRACE_URL")
	r.str(&c.Telemetry.TraceDSN, "ITSUPPORT_TRACE_DSN")
	r.boolean(&c.Debug, "DEBUG_MODE")

	return errors.Join(r.errs...)
}

// Validate reports every missing credential and out-of-range value.
func (c *Config) Validate() error {
	var errs []error

	if c.Model.APIKey == "" {
		errs = append(errs, errors.New("missing required LLM API key: set ITSUPPORT_API_KEY (or GROQ_API_KEY)"))
	}
	switch strings.ToLower(c.Model.Vendor) {
	case "groq", "openai", "gemini", "google", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown model vendor %q (supported: groq, openai, gemini, anthropic)", c.Model.Vendor))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model name must not be empty"))
	}
	if c.Model.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("max tokens must be positive, got %d", c.Model.MaxTokens))
	}
	if c.Model.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max iterations must be positive, got %d", c.Model.MaxIterations))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %g", c.Model.Temperature))
	}

	switch c.Tickets.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown ticket database driver %q (supported: mysql, postgres, sqlite)", c.Tickets.Driver))
	}
	if c.Tickets.Driver == "sqlite" && c.Tickets.DSN == "" {
		errs = append(errs, errors.New("sqlite ticket database requires ITSUPPORT_DB_DSN"))
	}

	errs = append(errs, c.RAG.validate()...)
	if c.Diag.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("diagnostics timeout must be positive, got %s", c.Diag.Timeout))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}

// ValidateRAG checks only the document index settings.
func (c *Config) ValidateRAG() error {
	if errs := c.RAG.validate(); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (r RAGConfig) validate() []error {
	var errs []error
	switch r.Backend {
	case "local", "chroma":
	default:
		errs = append(errs, fmt.Errorf("unknown vector backend %q (supported: local, chroma)", r.Backend))
	}
	if r.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", r.ChunkSize))
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk overlap must be within [0, chunk size), got %d", r.ChunkOverlap))
	}
	if r.TopK < 1 {
		errs = append(errs, fmt.Errorf("top-k must be at least 1, got %d", r.TopK))
	}
	return errs
}

// RetrievalEnabled reports whether documents can be embedded and searched.
func (c *Config) RetrievalEnabled() bool {
	return c.RAG.EmbeddingAPIKey != ""
}

// TicketDSN returns the data-source name for the ticket database.
func (c *Config) TicketDSN() string {
	if c.Tickets.DSN != "" {
		return c.Tickets.DSN
	}

	switch c.Tickets.Driver {
	case "postgres":
		port := c.Tickets.Port
		if port == 3306 {
			port = 5432
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.Tickets.User, c.Tickets.Password),
			Host:   net.JoinHostPort(c.Tickets.Host, strconv.Itoa(port)),
			Path:   "/" + c.Tickets.Database,
		}
		return u.String()
	default:
		mc := mysql.NewConfig()
		mc.User = c.Tickets.User
		mc.Passwd = c.Tickets.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Tickets.Host, strconv.Itoa(c.Tickets.Port))
		mc.DBName = c.Tickets.Database
		mc.ParseTime = true
		mc.Loc = time.UTC
		return mc.FormatDSN()
	}
}

// LogSummary logs the effective configuration without secrets.
func (c *Config) LogSummary() {
	slog.Info("configuration",
		"model_vendor", c.Model.Vendor,
		"model", c.Model.Name,
		"temperature", c.Model.Temperature,
		"max_tokens", c.Model.MaxTokens,
		"max_iterations", c.Model.MaxIterations,
		"ticket_driver", c.Tickets.Driver,
		"ticket_host", net.JoinHostPort(c.Tickets.Host, strconv.Itoa(c.Tickets.Port)),
		"vector_backend", c.RAG.Backend,
		"vector_path", c.RAG.Path,
		"embedding_model", c.RAG.EmbeddingModel,
		"retrieval_enabled", c.RetrievalEnabled(),
		"top_k", c.RAG.TopK,
		"ui_addr", c.UI.Addr,
		"metrics_addr", c.Telemetry.MetricsAddr,
		"tracing", c.Telemetry.TraceURL != "" || c.Telemetry.TraceDSN != "",
		"debug", c.Debug,
	)
}
