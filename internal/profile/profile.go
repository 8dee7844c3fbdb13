package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string
	// Addr is the binding address for server.
	Addr string
	// Port is the binding port for server.
	Port int
	// Data is the data directory.
	Data string
	// DSN points to where the store data is saved.
	DSN string
	// Driver is the database driver: sqlite, mysql or postgres.
	Driver string
	Version string

	// RedisURL enables the redis backed cache, transport and task queue when set.
	RedisURL string
	// Queue selects the task queue backend: "local" or "redis".
	Queue string

	// LLMProvider is one of "openai", "anthropic" or "fake".
	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string

	// JWTSecret signs and verifies bearer tokens.
	JWTSecret string
	// MaxChatCost is the per-thread token budget for owners whose token
	// does not carry one.
	MaxChatCost int

	// WorkerConcurrency bounds the number of completions run at once.
	WorkerConcurrency int
	// CompletionTimeout bounds a single provider round trip.
	CompletionTimeout time.Duration
	// PollInterval is the stream relay's transport poll delay.
	PollInterval time.Duration
	// StreamTimeout ends a relay that saw no progress for this long.
	StreamTimeout time.Duration
	// JobRetention is how long a finished stream job stays in the transport.
	JobRetention time.Duration
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if err := os.MkdirAll(dataDir, 0o770); err != nil {
		return "", errors.Wrapf(err, "unable to create data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate fills in defaults and rejects inconsistent settings.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "cookgpt")
		} else {
			p.Data = "/var/opt/cookgpt"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("cookgpt_%s.db", p.Mode))
	}

	switch p.Queue {
	case "":
		p.Queue = "local"
	case "local":
	case "redis":
		if p.RedisURL == "" {
			return errors.New("redis queue requires a redis url")
		}
	default:
		return errors.Errorf("unknown queue %q", p.Queue)
	}

	if p.LLMProvider == "" {
		p.LLMProvider = "fake"
	}
	if p.LLMProvider != "fake" && p.LLMAPIKey == "" {
		return errors.Errorf("llm provider %q requires an api key", p.LLMProvider)
	}
	if p.LLMModel == "" {
		p.LLMModel = "gpt-3.5-turbo"
	}
	if p.JWTSecret == "" {
		if !p.IsDev() {
			return errors.New("jwt secret not set")
		}
		p.JWTSecret = "cookgpt-dev-secret"
	}
	if p.MaxChatCost <= 0 {
		p.MaxChatCost = 2000
	}
	if p.WorkerConcurrency <= 0 {
		p.WorkerConcurrency = 4
	}
	if p.CompletionTimeout <= 0 {
		p.CompletionTimeout = 2 * time.Minute
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 100 * time.Millisecond
	}
	if p.StreamTimeout <= 0 {
		p.StreamTimeout = p.CompletionTimeout + 30*time.Second
	}
	if p.JobRetention <= 0 {
		p.JobRetention = 10 * time.Minute
	}
	return nil
}
