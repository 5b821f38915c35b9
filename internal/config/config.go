package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendQueue  int           `mapstructure:"send_queue"`
	// RateLimit is the number of signaling messages allowed per RateInterval.
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	Secret       string        `mapstructure:"secret"`
	// PublicURL prefixes announced stream URLs, e.g. http://192.168.1.10:8080.
	PublicURL string `mapstructure:"public_url"`

	WebRTC    WebRTCConfig    `mapstructure:"webrtc"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Announce  AnnounceConfig  `mapstructure:"announce"`
}

type WebRTCConfig struct {
	PortMin uint16 `mapstructure:"port_min"`
	PortMax uint16 `mapstructure:"port_max"`
	// NAT1To1IPs are advertised as host candidates instead of the local addresses.
	NAT1To1IPs []string      `mapstructure:"nat_1to1_ips"`
	GatherWait time.Duration `mapstructure:"gather_wait"`
}

type RelayConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type TranscodeConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Format        string        `mapstructure:"format"`
	BitrateKbps   int           `mapstructure:"bitrate_kbps"`
	BufferSeconds int           `mapstructure:"buffer_seconds"`
	SampleRate    int           `mapstructure:"sample_rate"`
	Channels      int           `mapstructure:"channels"`
	FrameTimeout  time.Duration `mapstructure:"frame_timeout"`
	VisEvery      int           `mapstructure:"vis_every"`
	FFmpegPath    string        `mapstructure:"ffmpeg_path"`
}

type AnnounceConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Channel       string `mapstructure:"channel"`
	QueueSize     int    `mapstructure:"queue_size"`
	Workers       int    `mapstructure:"workers"`
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return load(fmt.Sprintf("config/config.%s.yaml", env))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_queue", 64)
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_interval", "1s")
	v.SetDefault("secret", "voice-relay")
	v.SetDefault("public_url", "http://localhost:8080")

	v.SetDefault("webrtc.port_min", 0)
	v.SetDefault("webrtc.port_max", 0)
	v.SetDefault("webrtc.nat_1to1_ips", []string{})
	v.SetDefault("webrtc.gather_wait", "500ms")

	v.SetDefault("relay.queue_size", 100)

	v.SetDefault("transcode.enabled", true)
	v.SetDefault("transcode.format", "mp3")
	v.SetDefault("transcode.bitrate_kbps", 128)
	v.SetDefault("transcode.buffer_seconds", 30)
	v.SetDefault("transcode.sample_rate", 48000)
	v.SetDefault("transcode.channels", 2)
	v.SetDefault("transcode.frame_timeout", "2s")
	v.SetDefault("transcode.vis_every", 5)
	v.SetDefault("transcode.ffmpeg_path", "ffmpeg")

	v.SetDefault("announce.redis_addr", "")
	v.SetDefault("announce.redis_db", 0)
	v.SetDefault("announce.channel", "voice:streams")
	v.SetDefault("announce.queue_size", 64)
	v.SetDefault("announce.workers", 2)
}

func load(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Stream: %s@%dk\n", cfg.Mode, cfg.Port, cfg.Transcode.Format, cfg.Transcode.BitrateKbps)
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.WebRTC.PortMin > c.WebRTC.PortMax {
		return fmt.Errorf("webrtc.port_min %d is above webrtc.port_max %d", c.WebRTC.PortMin, c.WebRTC.PortMax)
	}
	if c.Transcode.BitrateKbps <= 0 || c.Transcode.BufferSeconds <= 0 {
		return fmt.Errorf("transcode bitrate and buffer_seconds must be positive")
	}
	return nil
}
