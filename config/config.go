package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Models  ModelsConfig  `mapstructure:"models"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Storage StorageConfig `mapstructure:"storage"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Redis   RedisConfig   `mapstructure:"redis"`
	CORS    CORSConfig    `mapstructure:"cors"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ModelsConfig struct {
	Dir               string   `mapstructure:"dir"`
	OnnxRuntimeLib    string   `mapstructure:"onnxruntime_lib"`
	IntraOpNumThreads int      `mapstructure:"intra_op_threads"`
	InterOpNumThreads int      `mapstructure:"inter_op_threads"`
	MaxSide           int      `mapstructure:"max_side"`
	MaxPixels         int      `mapstructure:"max_pixels"`
	Preload           []string `mapstructure:"preload"`
}

type WorkerConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
}

type UploadConfig struct {
	Dir         string        `mapstructure:"dir"`
	MaxSize     int64         `mapstructure:"max_size"`
	StageToDisk bool          `mapstructure:"stage_to_disk"`
	Retention   time.Duration `mapstructure:"retention"`
	SweepSpec   string        `mapstructure:"sweep_spec"`
}

type StorageConfig struct {
	Dir       string        `mapstructure:"dir"`
	URLPrefix string        `mapstructure:"url_prefix"`
	Retention time.Duration `mapstructure:"retention"`
	SweepSpec string        `mapstructure:"sweep_spec"`
}

type FetchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Load 读取 YAML 配置，文件不存在时只使用默认值；环境变量 REMBG_<SECTION>_<KEY> 优先
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REMBG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// New 加载 .env 后读取 config.yaml
func New() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("REMBG_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	return Load(path)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("models.dir", "./models")
	v.SetDefault("models.onnxruntime_lib", "")
	v.SetDefault("models.intra_op_threads", 0)
	v.SetDefault("models.inter_op_threads", 1)
	v.SetDefault("models.max_side", 0)
	v.SetDefault("models.max_pixels", 40_000_000)
	v.SetDefault("models.preload", []string{})

	v.SetDefault("worker.max_concurrent", runtime.NumCPU())
	v.SetDefault("worker.queue_timeout", 60*time.Second)

	v.SetDefault("upload.dir", "./uploads")
	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.stage_to_disk", false)
	v.SetDefault("upload.retention", time.Hour)
	v.SetDefault("upload.sweep_spec", "@every 15m")

	v.SetDefault("storage.dir", "./bgremoved")
	v.SetDefault("storage.url_prefix", "/bgremoved")
	v.SetDefault("storage.retention", 0)
	v.SetDefault("storage.sweep_spec", "@every 10m")

	v.SetDefault("fetch.timeout", 15*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("cors.allow_origins", []string{"http://localhost", "http://localhost:8080"})
}
