package config

import (
	"flag"
	"os"
	"time"

	"galleria/internal/domain/models"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string                            `yaml:"env" env-default:"local"`
	DSN         string                            `yaml:"dsn" env:"DSN" env-required:"true"`
	HTTP        HTTPConfig                        `yaml:"http"`
	FileStorage FileStorageConfig                 `yaml:"file_storage"`
	S3          S3Config                          `yaml:"s3"`
	Redis       RedisConf                         `yaml:"redis"`
	Thumbnail   ThumbnailConfig                   `yaml:"thumbnail"`
	Dispatcher  DispatcherConfig                  `yaml:"dispatcher"`
	Feeds       map[string]models.FeedCredentials `yaml:"feeds"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port" env-default:"8080"`
}

type FileStorageConfig struct {
	// Driver is "local" or "s3".
	Driver      string `yaml:"driver" env-default:"local"`
	BaseDir     string `yaml:"base_dir" env-default:"./media"`
	BaseURL     string `yaml:"base_url" env-default:"http://localhost:8080/media"`
	GalleryRoot string `yaml:"gallery_root" env-default:"galleries"`
	MaxSize     int64  `yaml:"max_size" env-default:"10485760"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env-default:"galleria"`
	UseSSL    bool   `yaml:"use_ssl"`
	BaseURL   string `yaml:"base_url"`
}

type RedisConf struct {
	RedisAddr     string `yaml:"redis_addr" env-default:"localhost:6379"`
	RedisPassword string `yaml:"redispassword"`
	RedisDB       int    `yaml:"redis_db"`
}

type ThumbnailConfig struct {
	Width  int `yaml:"width" env-default:"200"`
	Height int `yaml:"height" env-default:"150"`
	// Margin is the total padding per axis, split evenly between both sides.
	Margin     int           `yaml:"margin" env-default:"8"`
	Background string        `yaml:"background" env-default:"#ebd7b9"`
	Quality    int           `yaml:"quality" env-default:"90"`
	Timeout    time.Duration `yaml:"timeout" env-default:"30s"`
}

type DispatcherConfig struct {
	Schedule  string        `yaml:"schedule" env-default:"@every 5m"`
	Timeout   time.Duration `yaml:"timeout" env-default:"15s"`
	BatchSize int           `yaml:"batch_size" env-default:"50"`
	Workers   int           `yaml:"workers" env-default:"4"`
	ClaimTTL  time.Duration `yaml:"claim_ttl" env-default:"2m"`
	Endpoint  string        `yaml:"endpoint" env-default:"https://api.twitter.com/2/tweets"`
	// Rate is the number of posts per minute allowed per feed account.
	Rate int `yaml:"rate" env-default:"10"`
}

func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}

	return MustLoadPath(path)
}

func MustLoadPath(configPath string) *Config {
	// check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	return &cfg
}

func fetchConfigPath() string {
	var res string

	// --config="path/to/config.yaml"
	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
