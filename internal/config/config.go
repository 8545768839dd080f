package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "VOCALIZE"

type ICE struct {
	STUNURL      string   `mapstructure:"stun_url"`
	TURNURLs     []string `mapstructure:"turn_urls"`
	TURNUsername string   `mapstructure:"turn_username"`
	TURNPassword string   `mapstructure:"turn_password"`
}

// Servers converts the settings into pion ICE servers. TURN entries are
// skipped unless credentials are set.
func (i ICE) Servers() []webrtc.ICEServer {
	var out []webrtc.ICEServer
	if i.STUNURL != "" {
		out = append(out, webrtc.ICEServer{URLs: []string{i.STUNURL}})
	}
	if len(i.TURNURLs) > 0 && i.TURNUsername != "" && i.TURNPassword != "" {
		out = append(out, webrtc.ICEServer{
			URLs:       i.TURNURLs,
			Username:   i.TURNUsername,
			Credential: i.TURNPassword,
		})
	}
	return out
}

type Config struct {
	Mode              string        `mapstructure:"mode"`
	Port              int           `mapstructure:"port"`
	StaticPath        string        `mapstructure:"static_path"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	Secret            string        `mapstructure:"secret"`
	DatabasePath      string        `mapstructure:"database_path"`
	JoinRequestLimit  int           `mapstructure:"join_request_limit"`
	JoinRequestWindow time.Duration `mapstructure:"join_request_window"`
	ICE               ICE           `mapstructure:"ice"`
}

// Peer configures the headless participant.
type Peer struct {
	Server          string        `mapstructure:"server"`
	Meeting         string        `mapstructure:"meeting"`
	Name            string        `mapstructure:"name"`
	Video           string        `mapstructure:"video"`
	Audio           string        `mapstructure:"audio"`
	Device          bool          `mapstructure:"device"`
	Loop            bool          `mapstructure:"loop"`
	AutoApprove     bool          `mapstructure:"auto_approve"`
	PresenceTimeout time.Duration `mapstructure:"presence_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
	ICE             ICE           `mapstructure:"ice"`
}

func setICEDefaults(v *viper.Viper) {
	v.SetDefault("ice.stun_url", "stun:stun.l.google.com:19302")
	v.SetDefault("ice.turn_urls", []string{})
	v.SetDefault("ice.turn_username", "")
	v.SetDefault("ice.turn_password", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readFile(v *viper.Viper, name string) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/%s.%s.yaml", name, env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
}

func Load() (*Config, error) {
	v := newViper()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	// No usable default; declared so VOCALIZE_SECRET reaches Unmarshal.
	v.SetDefault("secret", "")
	v.SetDefault("database_path", "vocalize.db")
	v.SetDefault("join_request_limit", 5)
	v.SetDefault("join_request_window", "1m")
	setICEDefaults(v)

	readFile(v, "config")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("secret must be set")
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("db", cfg.DatabasePath).Msg("config ready")
	return &cfg, nil
}

// PeerFlags registers the headless participant's command line.
func PeerFlags(fs *pflag.FlagSet) {
	fs.String("server", "http://localhost:8080", "relay server base URL")
	fs.String("meeting", "", "meeting id to join (empty creates one)")
	fs.String("name", "", "display name")
	fs.String("video", "", "IVF file to send as camera")
	fs.String("audio", "", "Ogg/Opus file to send as microphone")
	fs.Bool("device", false, "capture from local camera and microphone")
	fs.Bool("loop", true, "loop media files")
	fs.Bool("auto-approve", false, "admit every guest while host")
	fs.Duration("presence-timeout", 10*time.Second, "how long to wait for own presence")
	fs.String("log-level", "info", "log level")
}

func LoadPeer(fs *pflag.FlagSet) (*Peer, error) {
	v := newViper()
	setICEDefaults(v)
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	readFile(v, "peer")

	var cfg Peer
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse peer config: %w", err)
	}
	if cfg.Video != "" || cfg.Audio != "" {
		if cfg.Device {
			return nil, fmt.Errorf("--device cannot be combined with media files")
		}
	}
	return &cfg, nil
}
