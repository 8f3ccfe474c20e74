package dispatcher_config

import (
	"time"

	"github.com/casetrail/casealert/internal/obs"
	"github.com/casetrail/casealert/internal/push"
	pginfra "github.com/casetrail/casealert/internal/repository/postgres"
	"github.com/casetrail/casealert/internal/services/api"
	"github.com/casetrail/casealert/internal/services/consumer"
	"github.com/casetrail/casealert/internal/services/scanner"
)

type AppCfg struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Ver  string `mapstructure:"ver"`
}

type LogCfg struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type KafkaCfg struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	GroupID       string   `mapstructure:"group_id"`
	FromBeginning bool     `mapstructure:"from_beginning"`
	Partitions    int      `mapstructure:"partitions"`
}

type PendingCfg struct {
	// Retention bounds how long parked notifications survive before the next
	// enqueue for the same user prunes them. Zero disables pruning.
	Retention time.Duration `mapstructure:"retention"`
}

type RulesCfg struct {
	Path string `mapstructure:"path"`
}

type MetricsCfg struct {
	Addr string `mapstructure:"addr"`
}

type OTELCfg struct {
	Enable      bool    `mapstructure:"enable"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type Config struct {
	App      AppCfg                `mapstructure:"app"`
	Log      LogCfg                `mapstructure:"log"`
	DB       pginfra.Config        `mapstructure:"db"`
	HTTP     api.ServerConfig      `mapstructure:"http"`
	Kafka    KafkaCfg              `mapstructure:"kafka"`
	Scan     scanner.RunnerConfig  `mapstructure:"scan"`
	Consumer consumer.PollerConfig `mapstructure:"consumer"`
	Push     push.FCMConfig        `mapstructure:"push"`
	Pending  PendingCfg            `mapstructure:"pending"`
	Rules    RulesCfg              `mapstructure:"rules"`
	Metrics  MetricsCfg            `mapstructure:"metrics"`
	OTEL     OTELCfg               `mapstructure:"otel"`
}

func (c *Config) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		App:    c.App.Name,
		Env:    c.App.Env,
		Ver:    c.App.Ver,
	}
}

func (c *Config) AsOTELConfig() obs.OTELConfig {
	return obs.OTELConfig{
		Enable:      c.OTEL.Enable,
		Endpoint:    c.OTEL.Endpoint,
		ServiceName: c.App.Name,
		SampleRatio: c.OTEL.SampleRatio,
	}
}
