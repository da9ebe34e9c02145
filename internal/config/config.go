package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/flitsinc/go-duet/internal/idgen"
)

const (
	SinkJSONL  = "jsonl"
	SinkSQLite = "sqlite"
	SinkMemory = "memory"
	SinkRedis  = "redis"
)

type Config struct {
	HTTPAddr  string
	DataDir   string
	Sink      string
	LogPath   string
	InboxPath string
	DBPath    string

	RedisAddr   string
	RedisStream string

	AgentA   string
	AgentB   string
	Duration time.Duration
	// AgentACmd and AgentBCmd are shell commands run once per turn; the
	// prompt goes to stdin and stdout lines are the reply. Empty means a
	// silent agent.
	AgentACmd string
	AgentBCmd string

	PolicyFile string
	Policy     Policy

	LogLevel     string
	OTLPEndpoint string
	// WebDir replaces the built-in dashboard when set.
	WebDir string

	// Tools are shell command lines, each run as a process tool.
	Tools     []string
	ShellTool bool
	InboxRPS  float64
}

// Load reads .env, the environment and the optional policy file. Environment
// values win over the policy file.
func Load() (Config, error) {
	loadDotEnv(".env")
	dataDir := getEnv("GO_DUET_DATA_DIR", "data")
	cfg := Config{
		HTTPAddr:  getEnv("GO_DUET_HTTP_ADDR", ":8080"),
		DataDir:   dataDir,
		Sink:      strings.ToLower(getEnv("GO_DUET_SINK", SinkJSONL)),
		LogPath:   getEnv("GO_DUET_LOG_PATH", filepath.Join(dataDir, "events.jsonl")),
		InboxPath: getEnv("GO_DUET_INBOX_PATH", filepath.Join(dataDir, "inbox.jsonl")),
		DBPath:    getEnv("GO_DUET_DB_PATH", filepath.Join(dataDir, "go-duet.db")),

		RedisAddr:   getEnv("GO_DUET_REDIS_ADDR", ""),
		RedisStream: getEnv("GO_DUET_REDIS_STREAM", "duet"),

		AgentA: getEnv("GO_DUET_AGENT_A", "botA"),
		AgentB: getEnv("GO_DUET_AGENT_B", "botB"),

		AgentACmd: getEnv("GO_DUET_AGENT_A_CMD", ""),
		AgentBCmd: getEnv("GO_DUET_AGENT_B_CMD", ""),

		PolicyFile:   getEnv("GO_DUET_POLICY_FILE", ""),
		LogLevel:     strings.ToLower(getEnv("GO_DUET_LOG_LEVEL", "info")),
		OTLPEndpoint: getEnv("GO_DUET_OTLP_ENDPOINT", ""),
		WebDir:       getEnv("GO_DUET_WEB_DIR", ""),
		Tools:        splitList(getEnv("GO_DUET_TOOLS", "")),
	}

	var errs []error
	durationS, err := getEnvFloat("GO_DUET_DURATION_S", 0)
	errs = append(errs, err)
	cfg.Duration = time.Duration(durationS * float64(time.Second))
	cfg.ShellTool, err = getEnvBool("GO_DUET_SHELL_TOOL", false)
	errs = append(errs, err)
	cfg.InboxRPS, err = getEnvFloat("GO_DUET_INBOX_RPS", 5)
	errs = append(errs, err)

	cfg.Policy = DefaultPolicy()
	if cfg.PolicyFile != "" {
		cfg.Policy, err = LoadPolicy(cfg.PolicyFile)
		errs = append(errs, err)
	}
	errs = append(errs, applyPolicyEnv(&cfg.Policy))
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	cfg.Policy = cfg.Policy.Normalize()
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	for _, id := range []string{c.AgentA, c.AgentB} {
		if err := idgen.ValidateAgentID(id); err != nil {
			errs = append(errs, err)
		}
	}
	if c.AgentA == c.AgentB {
		errs = append(errs, fmt.Errorf("agent ids must differ, both are %q", c.AgentA))
	}
	switch c.Sink {
	case SinkJSONL, SinkSQLite, SinkMemory:
	case SinkRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("GO_DUET_REDIS_ADDR is required for the redis sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink %q", c.Sink))
	}
	if c.Duration < 0 {
		errs = append(errs, errors.New("duration must not be negative"))
	}
	return errors.Join(errs...)
}

func applyPolicyEnv(p *Policy) error {
	var errs []error
	if v, ok := os.LookupEnv("GO_DUET_SLICE_MS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("GO_DUET_SLICE_MS: %w", err))
		}
		p.Floor.SliceMs = n
	}
	if v, ok := os.LookupEnv("GO_DUET_MAX_LATENCY_S"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("GO_DUET_MAX_LATENCY_S: %w", err))
		}
		p.Trigger.MaxLatencyS = f
	}
	if v, ok := os.LookupEnv("GO_DUET_MIN_SILENCE_S"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("GO_DUET_MIN_SILENCE_S: %w", err))
		}
		p.Trigger.MinSilenceS = f
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
