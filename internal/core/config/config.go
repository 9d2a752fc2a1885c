package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type EventsCfg struct {
	Enabled bool
	Brokers []string `validate:"required_if=Enabled true,dive,hostname_port"`
	Topic   string   `validate:"required_if=Enabled true"`
	Queue   int      `validate:"gte=0"`
}

type RuntimeCfg struct {
	Path            string        `validate:"required"`
	Packages        []string      `validate:"dive,required"`
	ProbeInterval   time.Duration `validate:"gte=0"`
	ProbeTimeout    time.Duration `validate:"gt=0"`
	BreakerFailures int           `validate:"gte=1"`
	BreakerCooldown time.Duration `validate:"gt=0"`
}

type Config struct {
	Addr           string `validate:"required"`
	LogLevel       string `validate:"oneof=debug info warn error"`
	LogConsole     bool
	ArchiveFamily  string `validate:"required"`
	ArchiveRoot    string `validate:"required"`
	Runtime        RuntimeCfg
	ProcessTimeout time.Duration `validate:"gt=0"`
	H3Res          int           `validate:"gte=0,lte=15"`
	JobStore       string        `validate:"oneof=memory redis"`
	JobCacheSize   int           `validate:"gte=1"`
	JobTTL         time.Duration `validate:"gte=0"`
	RedisAddr      string        `validate:"required_if=JobStore redis"`
	Events         EventsCfg
}

func FromEnv() Config {
	return Config{
		Addr:          getenv("ADDR", ":8090"),
		LogLevel:      strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogConsole:    getbool("LOG_CONSOLE", false),
		ArchiveFamily: getenv("ARCHIVE_FAMILY", "midas-open"),
		ArchiveRoot:   getenv("ARCHIVE_ROOT", "/data/midas-open"),
		Runtime: RuntimeCfg{
			Path:            getenv("RSCRIPT_PATH", "Rscript"),
			Packages:        getlist("R_PACKAGES", nil),
			ProbeInterval:   getduration("R_PROBE_INTERVAL", 5*time.Minute),
			ProbeTimeout:    getduration("R_PROBE_TIMEOUT", 20*time.Second),
			BreakerFailures: getint("R_BREAKER_FAILURES", 3),
			BreakerCooldown: getduration("R_BREAKER_COOLDOWN", 30*time.Second),
		},
		ProcessTimeout: getduration("PROCESS_TIMEOUT", 2*time.Minute),
		H3Res:          getint("H3_RES", 6),
		JobStore:       getenv("JOB_STORE", "memory"),
		JobCacheSize:   getint("JOB_CACHE_SIZE", 1024),
		JobTTL:         getduration("JOB_TTL", 24*time.Hour),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		Events: EventsCfg{
			Enabled: getbool("JOB_EVENTS_ENABLED", false),
			Brokers: getlist("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getenv("KAFKA_TOPIC", "opencdms.jobs"),
			Queue:   getint("JOB_EVENTS_QUEUE", 1024),
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid field in one error.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a, b,c" into a list
func getlist(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for p := range strings.SplitSeq(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
