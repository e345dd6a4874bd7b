package config

import (
	"errors"
	"github.com/spf13/viper"
	"strings"
	"time"
)

type Config struct {
	App         App         `yaml:"app"`
	Server      Server      `yaml:"server"`
	Media       Media       `yaml:"media"`
	Camera      Camera      `yaml:"camera"`
	Calibration Calibration `yaml:"calibration"`
	Undistort   Undistort   `yaml:"undistort"`
	FFmpeg      FFmpeg      `yaml:"ffmpeg"`
	Detector    Detector    `yaml:"detector"`
	Pipeline    Pipeline    `yaml:"pipeline"`
	Highlights  Highlights  `yaml:"highlights"`
	Database    Database    `yaml:"database"`
	MinIO       MinIO       `yaml:"minio"`
	Queue       *RabbitMQ   `yaml:"rabbitmq"`
	MQTT        MQTT        `yaml:"mqtt"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
	LogLevel    string `yaml:"log_level"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

// Media is the on-disk layout for every produced asset. Root is served under URLPrefix.
type Media struct {
	Root      string `yaml:"root"`
	URLPrefix string `yaml:"url_prefix"`
}

type Camera struct {
	Device          string        `yaml:"device"`
	InputFormat     string        `yaml:"input_format"`
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	FPS             float64       `yaml:"fps"`
	WarmUp          time.Duration `yaml:"warm_up"`
	ReplaySeconds   int           `yaml:"replay_seconds"`
	ReplayTailBytes int64         `yaml:"replay_tail_bytes"`
	JPEGQuality     int           `yaml:"jpeg_quality"`
}

type Calibration struct {
	Dir        string `yaml:"dir"`
	BoardCols  int    `yaml:"board_cols"`
	BoardRows  int    `yaml:"board_rows"`
	MinSamples int    `yaml:"min_samples"`
	MaxSamples int    `yaml:"max_samples"`
}

type Undistort struct {
	Balance float64 `yaml:"balance"`
	Rotate  bool    `yaml:"rotate"`
}

type FFmpeg struct {
	Binary        string `yaml:"binary"`
	FFprobeBinary string `yaml:"ffprobe_binary"`
}

type Detector struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	AutoAttempts int           `yaml:"auto_attempts"`
}

type Pipeline struct {
	ReplayEnabled  bool    `yaml:"replay_enabled"`
	ReplayBefore   float64 `yaml:"replay_before"`
	ReplayAfter    float64 `yaml:"replay_after"`
	ReplaySlowdown float64 `yaml:"replay_slowdown"`
}

type Highlights struct {
	MaxGap          int     `yaml:"max_gap"`
	MinLength       int     `yaml:"min_length"`
	MinShortestSecs float64 `yaml:"min_shortest_seconds"`
	SelectFraction  float64 `yaml:"select_fraction"`
	ClipConcurrency int     `yaml:"clip_concurrency"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type MinIO struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	AccessID        string `yaml:"access_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
}

type RabbitMQ struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

type MQTT struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "production")
	v.SetDefault("app.host", "localhost")
	v.SetDefault("app.protocol", "http")
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.workers", 2)

	v.SetDefault("media.root", "static")
	v.SetDefault("media.url_prefix", "/media")

	v.SetDefault("camera.device", "/dev/video0")
	v.SetDefault("camera.input_format", "v4l2")
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("camera.fps", 30.0)
	v.SetDefault("camera.warm_up", 2*time.Second)
	v.SetDefault("camera.replay_seconds", 30)
	v.SetDefault("camera.replay_tail_bytes", 42*1024*1024)
	v.SetDefault("camera.jpeg_quality", 95)

	v.SetDefault("calibration.dir", "calibration_data")
	v.SetDefault("calibration.board_cols", 9)
	v.SetDefault("calibration.board_rows", 6)
	v.SetDefault("calibration.min_samples", 15)
	v.SetDefault("calibration.max_samples", 0)

	v.SetDefault("undistort.balance", 0.0)
	v.SetDefault("undistort.rotate", true)

	v.SetDefault("ffmpeg.binary", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_binary", "ffprobe")

	v.SetDefault("detector.base_url", "http://127.0.0.1:8000")
	v.SetDefault("detector.timeout", 30*time.Minute)
	v.SetDefault("detector.auto_attempts", 5)

	v.SetDefault("pipeline.replay_enabled", true)
	v.SetDefault("pipeline.replay_before", 2.0)
	v.SetDefault("pipeline.replay_after", 1.0)
	v.SetDefault("pipeline.replay_slowdown", 2.0)

	v.SetDefault("highlights.max_gap", 30)
	v.SetDefault("highlights.min_length", 5)
	v.SetDefault("highlights.min_shortest_seconds", 3.0)
	v.SetDefault("highlights.select_fraction", 0.25)
	v.SetDefault("highlights.clip_concurrency", 2)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "courtcam.db")

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.prefix", "courtcam")

	v.SetDefault("rabbitmq_enabled", false)
	v.SetDefault("rabbitmq_port", 5672)
	v.SetDefault("rabbitmq_kind", "direct")
	v.SetDefault("rabbitmq_exchange", "courtcam_exchange")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.client_id", "courtcam")
	v.SetDefault("mqtt.topic", "courtcam/jobs")
}

// Load reads config.yaml from path. A missing file is not an error: defaults and
// COURTCAM_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("courtcam")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return &Config{
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
			LogLevel:    v.GetString("app.log_level"),
		},
		Server: Server{
			HttpPort: v.GetString("server.port"),
			Workers:  v.GetInt("server.workers"),
		},
		Media: Media{
			Root:      v.GetString("media.root"),
			URLPrefix: v.GetString("media.url_prefix"),
		},
		Camera: Camera{
			Device:          v.GetString("camera.device"),
			InputFormat:     v.GetString("camera.input_format"),
			Width:           v.GetInt("camera.width"),
			Height:          v.GetInt("camera.height"),
			FPS:             v.GetFloat64("camera.fps"),
			WarmUp:          v.GetDuration("camera.warm_up"),
			ReplaySeconds:   v.GetInt("camera.replay_seconds"),
			ReplayTailBytes: v.GetInt64("camera.replay_tail_bytes"),
			JPEGQuality:     v.GetInt("camera.jpeg_quality"),
		},
		Calibration: Calibration{
			Dir:        v.GetString("calibration.dir"),
			BoardCols:  v.GetInt("calibration.board_cols"),
			BoardRows:  v.GetInt("calibration.board_rows"),
			MinSamples: v.GetInt("calibration.min_samples"),
			MaxSamples: v.GetInt("calibration.max_samples"),
		},
		Undistort: Undistort{
			Balance: v.GetFloat64("undistort.balance"),
			Rotate:  v.GetBool("undistort.rotate"),
		},
		FFmpeg: FFmpeg{
			Binary:        v.GetString("ffmpeg.binary"),
			FFprobeBinary: v.GetString("ffmpeg.ffprobe_binary"),
		},
		Detector: Detector{
			BaseURL:      v.GetString("detector.base_url"),
			Timeout:      v.GetDuration("detector.timeout"),
			AutoAttempts: v.GetInt("detector.auto_attempts"),
		},
		Pipeline: Pipeline{
			ReplayEnabled:  v.GetBool("pipeline.replay_enabled"),
			ReplayBefore:   v.GetFloat64("pipeline.replay_before"),
			ReplayAfter:    v.GetFloat64("pipeline.replay_after"),
			ReplaySlowdown: v.GetFloat64("pipeline.replay_slowdown"),
		},
		Highlights: Highlights{
			MaxGap:          v.GetInt("highlights.max_gap"),
			MinLength:       v.GetInt("highlights.min_length"),
			MinShortestSecs: v.GetFloat64("highlights.min_shortest_seconds"),
			SelectFraction:  v.GetFloat64("highlights.select_fraction"),
			ClipConcurrency: v.GetInt("highlights.clip_concurrency"),
		},
		Database: Database{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		MinIO: MinIO{
			Enabled:         v.GetBool("minio.enabled"),
			URL:             v.GetString("minio.url"),
			AccessID:        v.GetString("minio.access_id"),
			SecretAccessKey: v.GetString("minio.secret_access_key"),
			Bucket:          v.GetString("minio.bucket"),
			Prefix:          v.GetString("minio.prefix"),
		},
		Queue: &RabbitMQ{
			Enabled:      v.GetBool("rabbitmq_enabled"),
			Host:         v.GetString("rabbitmq_host"),
			Port:         v.GetInt("rabbitmq_port"),
			User:         v.GetString("rabbitmq_user"),
			Pass:         v.GetString("rabbitmq_pass"),
			ExchangeName: v.GetString("rabbitmq_exchange"),
			Kind:         v.GetString("rabbitmq_kind"),
		},
		MQTT: MQTT{
			Enabled:  v.GetBool("mqtt.enabled"),
			Broker:   v.GetString("mqtt.broker"),
			ClientID: v.GetString("mqtt.client_id"),
			Username: v.GetString("mqtt.username"),
			Password: v.GetString("mqtt.password"),
			Topic:    v.GetString("mqtt.topic"),
		},
	}, nil
}
