package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "hireloop"
)

type Config struct {
	Tenant  string `mapstructure:"tenant"`
	TeamID  string `mapstructure:"team-id"`
	Listen  string `mapstructure:"listen"`
	WorkDir string `mapstructure:"work-dir"`

	AdminEmail       string `mapstructure:"admin-email"`
	InterviewBaseURL string `mapstructure:"interview-base-url"`

	Tracker *TrackerConfig `mapstructure:"tracker"`
	Billing *BillingConfig `mapstructure:"billing"`
	Email   *EmailConfig   `mapstructure:"email"`
	Meter   *MeterConfig   `mapstructure:"meter"`
	Webhook *WebhookConfig `mapstructure:"webhook"`
	AI      *AIConfig      `mapstructure:"ai"`
}

type TrackerConfig struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token-file"`
}

type BillingConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
}

type EmailConfig struct {
	APIKey      string `mapstructure:"api-key"`
	APIKeyFile  string `mapstructure:"api-key-file"`
	From        string `mapstructure:"from"`
	ReplyDomain string `mapstructure:"reply-domain"`
}

type MeterConfig struct {
	PostgresDSN string `mapstructure:"postgres-dsn"`
}

type WebhookConfig struct {
	Secret     string `mapstructure:"secret"`
	SecretFile string `mapstructure:"secret-file"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "hireloop drives candidate records in the tracker through screening and notifications",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envBindings := map[string]string{
		"tracker.token-file":     "TRACKER_TOKEN_FILE",
		"billing.api-key-file":   "BILLING_API_KEY_FILE",
		"email.api-key-file":     "EMAIL_API_KEY_FILE",
		"webhook.secret-file":    "WEBHOOK_SECRET_FILE",
		"ai.gemini.api-key-file": "GEMINI_API_KEY_FILE",
		"meter.postgres-dsn":     "DATABASE_URL",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is hireloop.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Config is needed only for the serve and screen commands.
	if serveCmd.CalledAs() == "" && screenCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
