package internal

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config 服務配置
//
// 從環境變數載入，命令行旗標可覆寫（見 cmd/server）
type Config struct {
	Port      int    `envconfig:"PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// SWEEP_INTERVAL 背景清掃週期；加入前的內聯清掃不受此設定影響
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`

	// STATIC_DIR 前端靜態資源目錄，空字串停用
	StaticDir string `envconfig:"STATIC_DIR" default:"public"`

	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
}

// LoadConfig 從環境變數載入配置
func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
