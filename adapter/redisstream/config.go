package redisstream

import (
	"fmt"
	"os"
	"time"
)

// Config for the Redis Streams transport.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Consumer group
	Group       string
	Consumer    string
	Concurrency int
	BatchSize   int
	Block       time.Duration
	StartID     string
	AutoCreate  bool

	// Stream management
	AutoDeleteOnAck bool
	DeadLetter      string
	MaxLenApprox    int64

	// Pending entry recovery. Disabled while ClaimMinIdle is zero.
	ClaimMinIdle  time.Duration
	ClaimBatch    int
	ClaimInterval time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "xipc"
	}
	return Config{
		Addr:          "127.0.0.1:6379",
		Group:         "xipc",
		Consumer:      fmt.Sprintf("xipc-%s-%d", hostname, os.Getpid()),
		Concurrency:   8,
		BatchSize:     128,
		Block:         5 * time.Second,
		StartID:       "$",
		AutoCreate:    true,
		ClaimBatch:    128,
		ClaimInterval: 15 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Group == "" {
		return fmt.Errorf("config: group required")
	}
	if c.Consumer == "" {
		return fmt.Errorf("config: consumer required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.Block <= 0 {
		return fmt.Errorf("config: block must be > 0, got %v", c.Block)
	}
	if c.ClaimMinIdle > 0 && c.ClaimInterval <= 0 {
		return fmt.Errorf("config: claim_interval must be > 0 if claim_min_idle is set")
	}
	return nil
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":               c.Addr,
		"username":           c.Username,
		"password":           c.Password,
		"db":                 c.DB,
		"tls":                c.TLS,
		"tls_server_name":    c.TLSServerName,
		"group":              c.Group,
		"consumer":           c.Consumer,
		"concurrency":        c.Concurrency,
		"batch_size":         c.BatchSize,
		"block":              c.Block,
		"start_id":           c.StartID,
		"auto_create":        c.AutoCreate,
		"auto_delete_on_ack": c.AutoDeleteOnAck,
		"dead_letter":        c.DeadLetter,
		"max_len_approx":     c.MaxLenApprox,
		"claim_min_idle":     c.ClaimMinIdle,
		"claim_batch":        c.ClaimBatch,
		"claim_interval":     c.ClaimInterval,
	}
}

// ConfigFromMap overlays m on Defaults. Durations may be given as
// time.Duration or as strings such as "2s"; integers as any Go integer
// kind or float64 (what JSON and YAML decoders produce).
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	str := func(k string) (string, bool) {
		v, ok := m[k].(string)
		return v, ok
	}
	num := func(k string) (int64, bool) {
		switch v := m[k].(type) {
		case int:
			return int64(v), true
		case int32:
			return int64(v), true
		case int64:
			return v, true
		case float64:
			return int64(v), true
		}
		return 0, false
	}
	dur := func(k string) (time.Duration, bool) {
		switch v := m[k].(type) {
		case time.Duration:
			return v, true
		case string:
			d, err := time.ParseDuration(v)
			return d, err == nil
		}
		return 0, false
	}
	flag := func(k string) (bool, bool) {
		v, ok := m[k].(bool)
		return v, ok
	}

	if v, ok := str("addr"); ok && v != "" {
		c.Addr = v
	}
	if v, ok := str("username"); ok {
		c.Username = v
	}
	if v, ok := str("password"); ok {
		c.Password = v
	}
	if v, ok := num("db"); ok {
		c.DB = int(v)
	}
	if v, ok := flag("tls"); ok {
		c.TLS = v
	}
	if v, ok := str("tls_server_name"); ok {
		c.TLSServerName = v
	}
	if v, ok := str("group"); ok && v != "" {
		c.Group = v
	}
	if v, ok := str("consumer"); ok && v != "" {
		c.Consumer = v
	}
	if v, ok := num("concurrency"); ok && v > 0 {
		c.Concurrency = int(v)
	}
	if v, ok := num("batch_size"); ok && v > 0 {
		c.BatchSize = int(v)
	}
	if v, ok := dur("block"); ok && v > 0 {
		c.Block = v
	}
	if v, ok := str("start_id"); ok && v != "" {
		c.StartID = v
	}
	if v, ok := flag("auto_create"); ok {
		c.AutoCreate = v
	}
	if v, ok := flag("auto_delete_on_ack"); ok {
		c.AutoDeleteOnAck = v
	}
	if v, ok := str("dead_letter"); ok {
		c.DeadLetter = v
	}
	if v, ok := num("max_len_approx"); ok && v > 0 {
		c.MaxLenApprox = v
	}
	if v, ok := dur("claim_min_idle"); ok {
		c.ClaimMinIdle = v
	}
	if v, ok := num("claim_batch"); ok && v > 0 {
		c.ClaimBatch = int(v)
	}
	if v, ok := dur("claim_interval"); ok && v > 0 {
		c.ClaimInterval = v
	}
	return c
}
