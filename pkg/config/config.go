package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server          ServerConfig
	SQLite          SQLiteConfig
	Redis           RedisConfig
	LLM             LLMConfig
	Logging         LoggingConfig
	Optimization    OptimizationConfig
	Models          []ModelConfig
	GroupDiscussion GroupDiscussionConfig
	Templates       []TemplateConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	CacheTTL int
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type OptimizationConfig struct {
	Enabled    bool
	Preference PreferenceConfig
	Feedback   FeedbackConfig
	Prompt     PromptConfig
	Discussion DiscussionConfig
}

type PreferenceConfig struct {
	WeightUpdateFactor float64
	WinRateWeight      float64
	ScoreWeight        float64
	DefaultWeight      float64
	MinWeight          float64
	MaxWeight          float64
}

type FeedbackConfig struct {
	Enabled               bool
	CollectionProbability float64
	CollectComparisons    bool
	CacheSize             int
	ExportDir             string
	TrainSplitRatio       float64
}

type PromptConfig struct {
	SelectionStrategy        string
	DynamicInstructionTuning bool
	AnalysisCacheSize        int
}

type DiscussionConfig struct {
	DefaultRounds int
	Temperature   float32
	MaxTokens     int
}

// ModelConfig describes one generation model known to the router, including
// its static strength vector over the fixed capability vocabulary.
type ModelConfig struct {
	Name         string
	Role         string
	SystemPrompt string
	Strengths    map[string]float64
}

// GroupDiscussionConfig describes the synthetic pseudo-model that represents
// running a multi-model discussion instead of a single generation call.
type GroupDiscussionConfig struct {
	Name         string
	SystemPrompt string
	Strengths    map[string]float64
}

type TemplateConfig struct {
	Name        string
	Description string
	Template    string
	Domains     []string
	UseCases    []string
	Complexity  string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/prefopt")

	viper.SetEnvPrefix("PREFOPT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/feedback.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.cacheTTL", 3600)

	viper.SetDefault("llm.baseURL", "http://localhost:11434/v1")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")

	viper.SetDefault("optimization.enabled", true)

	viper.SetDefault("optimization.preference.weightUpdateFactor", 0.1)
	viper.SetDefault("optimization.preference.winRateWeight", 0.7)
	viper.SetDefault("optimization.preference.scoreWeight", 0.3)
	viper.SetDefault("optimization.preference.defaultWeight", 1.0)
	viper.SetDefault("optimization.preference.minWeight", 0.5)
	viper.SetDefault("optimization.preference.maxWeight", 2.0)

	viper.SetDefault("optimization.feedback.enabled", true)
	viper.SetDefault("optimization.feedback.collectionProbability", 0.3)
	viper.SetDefault("optimization.feedback.collectComparisons", true)
	viper.SetDefault("optimization.feedback.cacheSize", 1000)
	viper.SetDefault("optimization.feedback.exportDir", "./data/rlhf_exports")
	viper.SetDefault("optimization.feedback.trainSplitRatio", 0.0)

	viper.SetDefault("optimization.prompt.selectionStrategy", "best_match")
	viper.SetDefault("optimization.prompt.dynamicInstructionTuning", true)
	viper.SetDefault("optimization.prompt.analysisCacheSize", 1000)

	viper.SetDefault("optimization.discussion.defaultRounds", 2)
	viper.SetDefault("optimization.discussion.temperature", 0.7)
	viper.SetDefault("optimization.discussion.maxTokens", 1024)

	viper.SetDefault("groupDiscussion.name", "group_discussion")
	viper.SetDefault("groupDiscussion.systemPrompt",
		"This is the result of a group discussion between different AI experts. "+
			"Each expert has contributed from their specialized field, and the results "+
			"have been synthesized into a comprehensive answer.")
}
