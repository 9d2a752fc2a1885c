package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	c := FromEnv()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if c.JobStore != "memory" || c.Runtime.Path != "Rscript" || c.ArchiveFamily != "midas-open" {
		t.Fatalf("defaults=%+v", c)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ARCHIVE_ROOT", "/srv/midas")
	t.Setenv("R_PACKAGES", "clifro, magick,,cdms.products")
	t.Setenv("PROCESS_TIMEOUT", "45s")
	t.Setenv("JOB_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JOB_EVENTS_ENABLED", "yes")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("H3_RES", "not-a-number")

	c := FromEnv()
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.ArchiveRoot != "/srv/midas" || c.ProcessTimeout != 45*time.Second || c.H3Res != 6 {
		t.Fatalf("cfg=%+v", c)
	}
	if strings.Join(c.Runtime.Packages, "|") != "clifro|magick|cdms.products" {
		t.Fatalf("packages=%v", c.Runtime.Packages)
	}
	if !c.Events.Enabled || len(c.Events.Brokers) != 2 {
		t.Fatalf("events=%+v", c.Events)
	}
}

func TestValidate_ReportsEveryField(t *testing.T) {
	c := FromEnv()
	c.JobStore = "redis"
	c.RedisAddr = ""
	c.H3Res = 16
	c.LogLevel = "chatty"
	c.Runtime.BreakerFailures = 0

	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, field := range []string{"RedisAddr", "H3Res", "LogLevel", "BreakerFailures"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("%s not reported: %v", field, err)
		}
	}
}

func TestValidate_EventsNeedBrokers(t *testing.T) {
	c := FromEnv()
	c.Events.Enabled = true
	c.Events.Brokers = []string{"not a host"}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "Brokers") {
		t.Fatalf("bad broker accepted: %v", err)
	}
}
