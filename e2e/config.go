package e2e

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
	// E2E_TYPING_WINDOW keeps the widget debounce short so scenarios stay fast
	TypingWindow time.Duration `envconfig:"E2E_TYPING_WINDOW" default:"300ms"`
	SinkTimeout  time.Duration `envconfig:"E2E_SINK_TIMEOUT" default:"2s"`
	AdminEmail   string        `envconfig:"E2E_ADMIN_EMAIL" default:"support@assist-chat.test"`
	AdminSecret  string        `envconfig:"E2E_ADMIN_SECRET" default:"correct-horse-battery"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
