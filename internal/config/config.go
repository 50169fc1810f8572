package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv      = "SIGNAL_SCANNER_CONFIG"
	anthropicAPIKeyEnv = "ANTHROPIC_API_KEY"
	claudeModelEnv     = "CLAUDE_MODEL"
	slackWebhookEnv    = "SLACK_WEBHOOK_URL"
	slackUserIDEnv     = "SLACK_USER_ID"
	redditClientIDEnv  = "REDDIT_CLIENT_ID"
	redditSecretEnv    = "REDDIT_CLIENT_SECRET"
	redditUserAgentEnv = "REDDIT_USER_AGENT"
	githubTokenEnv     = "GITHUB_TOKEN"
	hfTokenEnv         = "HF_TOKEN"
	scoreThresholdEnv  = "SCORE_THRESHOLD"
	databasePathEnv    = "SIGNALS_DB_PATH"
	outreachLogEnv     = "OUTREACH_LOG_PATH"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Claude      ClaudeConfig      `yaml:"claude"`
	Slack       SlackConfig       `yaml:"slack"`
	Reddit      RedditConfig      `yaml:"reddit"`
	GitHub      GitHubConfig      `yaml:"github"`
	HuggingFace HuggingFaceConfig `yaml:"huggingface"`
	AlphaXiv    AlphaXivConfig    `yaml:"alphaxiv"`
	Suppression SuppressionConfig `yaml:"suppression"`
	Keywords    []KeywordCluster  `yaml:"keywords"`
}

// LoggingConfig selects console log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig points at the SQLite file holding the signal ledger.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig defines how often scans repeat. RunOnce disables the
// interval loop entirely and executes a single pass.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
	RunOnce  bool          `yaml:"runOnce"`
}

// ScoringConfig controls keyword gating and notification cutoffs.
type ScoringConfig struct {
	NotifyThreshold int           `yaml:"notifyThreshold"`
	Lookback        time.Duration `yaml:"lookback"`
}

// ClaudeConfig defines how to contact the scoring model.
type ClaudeConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"apiKey"`
	MaxTokens      int     `yaml:"maxTokens"`
	RequestsPerSec float64 `yaml:"requestsPerSec"`
}

// SlackConfig wires the incoming webhook used for lead alerts.
type SlackConfig struct {
	WebhookURL    string `yaml:"webhookUrl"`
	MentionUserID string `yaml:"mentionUserId"`
}

// RedditConfig covers OAuth credentials, the subreddits to drain, and the
// terms used for per-subreddit searches.
type RedditConfig struct {
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	UserAgent    string   `yaml:"userAgent"`
	Subreddits   []string `yaml:"subreddits"`
	SearchTerms  []string `yaml:"searchTerms"`
}

// GitHubConfig covers issue-search credentials and scopes.
type GitHubConfig struct {
	Token         string   `yaml:"token"`
	SearchQueries []string `yaml:"searchQueries"`
	PriorityRepos []string `yaml:"priorityRepos"`
}

// HuggingFaceConfig lists the datasets watched for discussions and health,
// plus the terms used to search for newly created datasets.
type HuggingFaceConfig struct {
	Token       string   `yaml:"token"`
	Datasets    []string `yaml:"datasets"`
	SearchTerms []string `yaml:"searchTerms"`
}

// AlphaXivConfig points at the trending page scraped for paper links.
type AlphaXivConfig struct {
	TrendingURL string `yaml:"trendingUrl"`
}

// SuppressionConfig names the outreach log consulted before alerting.
type SuppressionConfig struct {
	OutreachLogPath string `yaml:"outreachLogPath"`
}

// KeywordCluster groups related pre-filter terms under a label.
type KeywordCluster struct {
	Name  string   `yaml:"name"`
	Terms []string `yaml:"terms"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Keywords) == 0 {
		cfg.Keywords = defaultConfig().Keywords
	}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(anthropicAPIKeyEnv); v != "" {
		c.Claude.APIKey = v
	}
	if v := os.Getenv(claudeModelEnv); v != "" {
		c.Claude.Model = v
	}

	if v := os.Getenv(slackWebhookEnv); v != "" {
		c.Slack.WebhookURL = v
	}
	if v := os.Getenv(slackUserIDEnv); v != "" {
		c.Slack.MentionUserID = v
	}

	if v := os.Getenv(redditClientIDEnv); v != "" {
		c.Reddit.ClientID = v
	}
	if v := os.Getenv(redditSecretEnv); v != "" {
		c.Reddit.ClientSecret = v
	}
	if v := os.Getenv(redditUserAgentEnv); v != "" {
		c.Reddit.UserAgent = v
	}

	if v := os.Getenv(githubTokenEnv); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv(hfTokenEnv); v != "" {
		c.HuggingFace.Token = v
	}

	if v := os.Getenv(scoreThresholdEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scoring.NotifyThreshold = n
		} else {
			log.Printf("config: ignoring non-numeric %s=%q", scoreThresholdEnv, v)
		}
	}

	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(outreachLogEnv); v != "" {
		c.Suppression.OutreachLogPath = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Database.Path != "" {
		base.Database = override.Database
	}

	if override.Scheduler.Interval > 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
	}
	if override.Scheduler.RunOnce {
		base.Scheduler.RunOnce = true
	}

	if override.Scoring.NotifyThreshold > 0 {
		base.Scoring.NotifyThreshold = override.Scoring.NotifyThreshold
	}
	if override.Scoring.Lookback > 0 {
		base.Scoring.Lookback = override.Scoring.Lookback
	}

	if override.Claude.Endpoint != "" {
		base.Claude.Endpoint = override.Claude.Endpoint
	}
	if override.Claude.Model != "" {
		base.Claude.Model = override.Claude.Model
	}
	if override.Claude.APIKey != "" {
		base.Claude.APIKey = override.Claude.APIKey
	}
	if override.Claude.MaxTokens > 0 {
		base.Claude.MaxTokens = override.Claude.MaxTokens
	}
	if override.Claude.RequestsPerSec > 0 {
		base.Claude.RequestsPerSec = override.Claude.RequestsPerSec
	}

	if override.Slack.WebhookURL != "" {
		base.Slack.WebhookURL = override.Slack.WebhookURL
	}
	if override.Slack.MentionUserID != "" {
		base.Slack.MentionUserID = override.Slack.MentionUserID
	}

	if override.Reddit.ClientID != "" {
		base.Reddit.ClientID = override.Reddit.ClientID
	}
	if override.Reddit.ClientSecret != "" {
		base.Reddit.ClientSecret = override.Reddit.ClientSecret
	}
	if override.Reddit.UserAgent != "" {
		base.Reddit.UserAgent = override.Reddit.UserAgent
	}
	if len(override.Reddit.Subreddits) > 0 {
		base.Reddit.Subreddits = override.Reddit.Subreddits
	}
	if len(override.Reddit.SearchTerms) > 0 {
		base.Reddit.SearchTerms = override.Reddit.SearchTerms
	}

	if override.GitHub.Token != "" {
		base.GitHub.Token = override.GitHub.Token
	}
	if len(override.GitHub.SearchQueries) > 0 {
		base.GitHub.SearchQueries = override.GitHub.SearchQueries
	}
	if len(override.GitHub.PriorityRepos) > 0 {
		base.GitHub.PriorityRepos = override.GitHub.PriorityRepos
	}

	if override.HuggingFace.Token != "" {
		base.HuggingFace.Token = override.HuggingFace.Token
	}
	if len(override.HuggingFace.Datasets) > 0 {
		base.HuggingFace.Datasets = override.HuggingFace.Datasets
	}
	if len(override.HuggingFace.SearchTerms) > 0 {
		base.HuggingFace.SearchTerms = override.HuggingFace.SearchTerms
	}

	if override.AlphaXiv.TrendingURL != "" {
		base.AlphaXiv = override.AlphaXiv
	}

	if override.Suppression.OutreachLogPath != "" {
		base.Suppression = override.Suppression
	}

	if len(override.Keywords) > 0 {
		base.Keywords = override.Keywords
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{Path: "data/signals.db"},
		Scheduler: SchedulerConfig{
			Interval: 6 * time.Hour,
			RunOnce:  true,
		},
		Scoring: ScoringConfig{
			NotifyThreshold: 56,
			Lookback:        48 * time.Hour,
		},
		Claude: ClaudeConfig{
			Endpoint:       "https://api.anthropic.com/v1/messages",
			Model:          "claude-haiku-4-5-20251001",
			MaxTokens:      1024,
			RequestsPerSec: 0.5,
		},
		Reddit: RedditConfig{
			UserAgent: "signal-scanner/1.0",
			Subreddits: []string{
				"MachineLearning",
				"LocalLLaMA",
				"SaaS",
				"indiehackers",
			},
			SearchTerms: []string{
				"looking for annotators", "need labeled data", "labeling service",
				"annotation service", "data labeling vendor", "outsource annotation",
				"human evaluation", "need human raters",
				"RLHF data", "preference data", "human feedback",
			},
		},
		GitHub: GitHubConfig{
			SearchQueries: []string{
				`"annotation quality" OR "labeling errors" OR "noisy labels" OR "mislabeled"`,
				`"need labeled data" OR "labeling service" OR "annotation service" OR "outsource annotation"`,
				`"RLHF data" OR "preference data" OR "reward model" OR "alignment data"`,
				`"synthetic data quality" OR "model collapse" OR "LLM-generated training data"`,
				`"annotation cost" OR "labeling budget" OR "cost per label"`,
			},
			PriorityRepos: []string{
				"HumanSignal/label-studio",
				"argilla-io/argilla",
				"opencv/cvat",
				"EleutherAI/lm-evaluation-harness",
			},
		},
		HuggingFace: HuggingFaceConfig{
			Datasets: []string{
				"tatsu-lab/alpaca_eval",
				"lmsys/chatbot_arena_conversations",
				"HuggingFaceH4/ultrafeedback_binarized",
			},
			SearchTerms: []string{
				"annotation", "RLHF", "preference", "human-labeled", "evaluation",
			},
		},
		AlphaXiv:    AlphaXivConfig{TrendingURL: "https://alphaxiv.org/explore"},
		Suppression: SuppressionConfig{OutreachLogPath: "data/outreach_log.csv"},
		Keywords:    defaultKeywords(),
	}
}

func defaultKeywords() []KeywordCluster {
	return []KeywordCluster{
		{Name: "pain", Terms: []string{
			"annotation quality", "labeling errors", "noisy labels",
			"inconsistent annotations", "bad labels", "label noise",
			"ground truth", "mislabeled", "inter-annotator agreement",
			"annotation disagreement",
		}},
		{Name: "need", Terms: []string{
			"looking for annotators", "need labeled data", "labeling service",
			"annotation service", "data labeling vendor", "outsource annotation",
			"human evaluation", "need human raters",
		}},
		{Name: "rlhf", Terms: []string{
			"RLHF data", "preference data", "human feedback", "reward model",
			"DPO training data", "red teaming", "alignment data",
			"constitutional AI",
		}},
		{Name: "competitor", Terms: []string{
			"Scale AI", "Labelbox", "Snorkel", "Appen", "Surge AI", "Toloka",
			"MTurk", "Mechanical Turk", "SageMaker Ground Truth",
		}},
		{Name: "frustration", Terms: []string{
			"stuck", "struggling", "failing", "doesn't work", "tried everything",
			"wasted", "threw out", "had to redo", "blocking", "bottleneck",
		}},
		{Name: "synthetic", Terms: []string{
			"synthetic data quality", "model collapse", "GPT-generated data",
			"synthetic vs human", "distillation not working",
			"LLM-generated training data",
		}},
		{Name: "budget", Terms: []string{
			"cost of labeling", "labeling budget", "annotation cost",
			"too expensive", "affordable labeling", "cost per label",
		}},
	}
}
