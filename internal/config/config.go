package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Task   TaskConfig
	Sim    SimConfig
}

type ServerConfig struct {
	BaseURL      string
	WebSocketURL string
	Timeout      int // seconds, per HTTP request (uploads excluded)
}

type TaskConfig struct {
	CancelGrace     int // seconds to wait for a cancellation round trip
	DiagInterval    int // milliseconds between diagnostic snapshot logs
	DefaultParallel int
}

type SimConfig struct {
	Port       string
	BodyLimit  int // megabytes
	StepDelay  int // milliseconds per simulated processing step
	DataDir    string
}

// HTTPTimeout returns the request timeout as a duration.
func (s ServerConfig) HTTPTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// CancelGraceDuration returns the cancellation grace period as a duration.
func (t TaskConfig) CancelGraceDuration() time.Duration {
	return time.Duration(t.CancelGrace) * time.Second
}

// DiagIntervalDuration returns the diagnostic log interval as a duration.
func (t TaskConfig) DiagIntervalDuration() time.Duration {
	return time.Duration(t.DiagInterval) * time.Millisecond
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	_ = viper.BindEnv("server.base_url", "HOOKS_SERVER_URL")
	_ = viper.BindEnv("server.websocket_url", "HOOKS_WS_URL")
	_ = viper.BindEnv("server.timeout", "HOOKS_HTTP_TIMEOUT")
	_ = viper.BindEnv("task.cancel_grace", "HOOKS_CANCEL_GRACE")
	_ = viper.BindEnv("task.diag_interval", "HOOKS_DIAG_INTERVAL")
	_ = viper.BindEnv("task.default_parallel", "HOOKS_DEFAULT_PARALLEL")
	_ = viper.BindEnv("sim.port", "SIM_PORT")
	_ = viper.BindEnv("sim.body_limit", "SIM_BODY_LIMIT")
	_ = viper.BindEnv("sim.step_delay", "SIM_STEP_DELAY")
	_ = viper.BindEnv("sim.data_dir", "SIM_DATA_DIR")

	// Defaults
	viper.SetDefault("server.base_url", "http://localhost:5000")
	viper.SetDefault("server.websocket_url", "ws://localhost:5000/ws")
	viper.SetDefault("server.timeout", 30)
	viper.SetDefault("task.cancel_grace", 10)
	viper.SetDefault("task.diag_interval", 500)
	viper.SetDefault("task.default_parallel", 16)
	viper.SetDefault("sim.port", "5000")
	viper.SetDefault("sim.body_limit", 200)
	viper.SetDefault("sim.step_delay", 400)
	viper.SetDefault("sim.data_dir", "")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			BaseURL:      viper.GetString("server.base_url"),
			WebSocketURL: viper.GetString("server.websocket_url"),
			Timeout:      viper.GetInt("server.timeout"),
		},
		Task: TaskConfig{
			CancelGrace:     viper.GetInt("task.cancel_grace"),
			DiagInterval:    viper.GetInt("task.diag_interval"),
			DefaultParallel: viper.GetInt("task.default_parallel"),
		},
		Sim: SimConfig{
			Port:      viper.GetString("sim.port"),
			BodyLimit: viper.GetInt("sim.body_limit"),
			StepDelay: viper.GetInt("sim.step_delay"),
			DataDir:   viper.GetString("sim.data_dir"),
		},
	}

	return cfg, nil
}
