// Package chatbot serves a small exoplanet Q&A assistant backed by a
// hosted language model, plus the embeddable chat widget that talks to it.
package chatbot

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/YuminosukeSato/exoml/pkg/errors"
)

// Default settings.
const (
	DefaultModelName    = "models/gemini-2.5-flash"
	DefaultAppName      = "Exoplanet Chatbot"
	DefaultActivePrompt = "exoplanet_expert"
	DefaultTemperature  = 0.2
	DefaultAddr         = ":8000"
	DefaultEnvFile      = ".env"
)

// Settings configures the chatbot. Keys are case-insensitive and may come
// from the environment (GOOGLE_API_KEY, MODEL_NAME, ...) or a dotenv file.
type Settings struct {
	GoogleAPIKey string  `mapstructure:"google_api_key"`
	ModelName    string  `mapstructure:"model_name"`
	AppName      string  `mapstructure:"app_name"`
	Debug        bool    `mapstructure:"debug"`
	ActivePrompt string  `mapstructure:"active_prompt"`
	PromptsDir   string  `mapstructure:"prompts_dir"`
	Addr         string  `mapstructure:"addr"`
	Temperature  float64 `mapstructure:"temperature"`
}

var settingKeys = []string{
	"google_api_key", "model_name", "app_name", "debug",
	"active_prompt", "prompts_dir", "addr", "temperature",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("app_name", DefaultAppName)
	v.SetDefault("debug", false)
	v.SetDefault("active_prompt", DefaultActivePrompt)
	v.SetDefault("prompts_dir", "")
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("temperature", DefaultTemperature)
}

// LoadSettings reads envFile (dotenv format, skipped when absent) and then
// the process environment, which wins. An empty envFile means ".env".
// GOOGLE_API_KEY is required.
func LoadSettings(envFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range settingKeys {
		// AutomaticEnv は Unmarshal で拾われないため明示的に bind する
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", k)
		}
	}

	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read %s", envFile)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "decode chatbot settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the required and bounded fields.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.GoogleAPIKey) == "" {
		return errors.NewValidationError("google_api_key", "is required", "")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return errors.NewValidationError("temperature", "must be in [0, 2]", s.Temperature)
	}
	return nil
}
