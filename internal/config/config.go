package config

import (
	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	S3       *s3Config
	CDN      *cdnConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"clustra"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string `envconfig:"CLUSTRA_ADDRESS" default:":3443"`
	MetricsAddress  string `envconfig:"CLUSTRA_METRICS_ADDRESS" default:":8080"`
	BaseUrl         string `envconfig:"CLUSTRA_BASE_URL" default:"https://localhost:3443"`
	LogLevel        string `envconfig:"CLUSTRA_LOG_LEVEL" default:"info"`
	WorkDir         string `envconfig:"CLUSTRA_WORK_DIR" default:"/tmp/clustra"`
	FfmpegPath      string `envconfig:"CLUSTRA_FFMPEG_PATH" default:"/usr/bin/ffmpeg"`
	FfprobePath     string `envconfig:"CLUSTRA_FFPROBE_PATH" default:"/usr/bin/ffprobe"`
	SweepInterval   int    `envconfig:"CLUSTRA_SWEEP_INTERVAL_SECONDS" default:"10"`
	SweepBatchSize  int    `envconfig:"CLUSTRA_SWEEP_BATCH_SIZE" default:"5"`
	InlineTranscode bool   `envconfig:"CLUSTRA_INLINE_TRANSCODE" default:"false"`
	MigrationFolder string `envconfig:"CLUSTRA_MIGRATIONS_FOLDER" default:""`
}

type s3Config struct {
	Endpoint  string `envconfig:"CLUSTRA_S3_ENDPOINT" default:"localhost:9000"`
	Bucket    string `envconfig:"CLUSTRA_S3_BUCKET" default:"clustra"`
	AccessKey string `envconfig:"CLUSTRA_S3_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"CLUSTRA_S3_SECRET_KEY" default:""`
	UseSSL    bool   `envconfig:"CLUSTRA_S3_USE_SSL" default:"false"`
}

type cdnConfig struct {
	Domain         string `envconfig:"CLUSTRA_CDN_DOMAIN" default:""`
	Endpoint       string `envconfig:"CLUSTRA_CDN_ENDPOINT" default:""`
	DistributionID string `envconfig:"CLUSTRA_CDN_DISTRIBUTION_ID" default:""`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}
