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
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/coach.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options for the coach daemon.
type Config struct {
	Environment string
	HTTPAddress string
	LogFile     string
	LogLevel    string

	// Local store locations; ignored when DatabaseURL is set.
	CreditsPath string
	LedgerPath  string
	// DatabaseURL selects the postgres backends when non-empty.
	DatabaseURL string
	// PolicyPath points at the YAML credit policy file.
	PolicyPath string

	// Upstream adapter configuration
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIOrg      string
	RequestTimeout time.Duration

	// Postgres pool settings
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime int // minutes
	DBConnMaxIdleTime int // minutes
}

// Load reads the current environment and the matching config file under root.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := Config{
		Environment: s.Environment,
		HTTPAddress: firstNonEmpty(os.Getenv("COACH_HTTP_ADDRESS"), merged["http_address"], ":8080"),
		LogFile:     firstNonEmpty(os.Getenv("COACH_LOG_FILE"), merged["log_file"]),
		LogLevel:    firstNonEmpty(os.Getenv("COACH_LOG_LEVEL"), merged["log_level"], "info"),
		CreditsPath: firstNonEmpty(os.Getenv("COACH_CREDITS_PATH"), merged["credits_path"], DefaultCreditsPath()),
		LedgerPath:  firstNonEmpty(os.Getenv("COACH_LEDGER_PATH"), merged["ledger_path"], DefaultLedgerPath()),
		DatabaseURL: firstNonEmpty(os.Getenv("COACH_DATABASE_URL"), merged["database_url"]),
		PolicyPath:  firstNonEmpty(os.Getenv("COACH_POLICY_PATH"), merged["policy_path"]),
	}

	cfg.OpenAIAPIKey = firstNonEmpty(os.Getenv("COACH_OPENAI_API_KEY"), os.Getenv("OPENAI_API_KEY"), merged["openai_api_key"])
	cfg.OpenAIBaseURL = firstNonEmpty(os.Getenv("COACH_OPENAI_BASE_URL"), merged["openai_base_url"])
	cfg.OpenAIOrg = firstNonEmpty(os.Getenv("COACH_OPENAI_ORG"), merged["openai_org"])

	cfg.RequestTimeout = 60 * time.Second
	if v := firstNonEmpty(os.Getenv("COACH_REQUEST_TIMEOUT"), merged["request_timeout"]); strings.TrimSpace(v) != "" {
		dur, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("invalid request_timeout %q: %w", v, err)
		}
		cfg.RequestTimeout = dur
	}

	cfg.DBMaxOpenConns = parseOptionalInt(firstNonEmpty(os.Getenv("COACH_DB_MAX_OPEN_CONNS"), merged["db_max_open_conns"]), 10)
	cfg.DBMaxIdleConns = parseOptionalInt(firstNonEmpty(os.Getenv("COACH_DB_MAX_IDLE_CONNS"), merged["db_max_idle_conns"]), 5)
	cfg.DBConnMaxLifetime = parseOptionalInt(firstNonEmpty(os.Getenv("COACH_DB_CONN_MAX_LIFETIME"), merged["db_conn_max_lifetime"]), 30)
	cfg.DBConnMaxIdleTime = parseOptionalInt(firstNonEmpty(os.Getenv("COACH_DB_CONN_MAX_IDLE_TIME"), merged["db_conn_max_idle_time"]), 10)

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv("COACH_ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultCreditsPath returns the fallback credit store location under the
// user's home directory.
func DefaultCreditsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "credits.db"
	}
	return filepath.Join(home, ".coachd", "credits.db")
}

// DefaultLedgerPath returns the fallback usage ledger location.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.db"
	}
	return filepath.Join(home, ".coachd", "ledger.db")
}
