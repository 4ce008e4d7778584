package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/CaravanDesk/ChatCaravan/internal/agent"
	"github.com/CaravanDesk/ChatCaravan/internal/api"
	"github.com/CaravanDesk/ChatCaravan/internal/cache"
	"github.com/CaravanDesk/ChatCaravan/internal/conversation"
	"github.com/CaravanDesk/ChatCaravan/internal/genai"
	"github.com/CaravanDesk/ChatCaravan/internal/lockfile"
	"github.com/CaravanDesk/ChatCaravan/internal/messaging"
	"github.com/CaravanDesk/ChatCaravan/internal/prompt"
	"github.com/CaravanDesk/ChatCaravan/internal/speech"
	"github.com/CaravanDesk/ChatCaravan/internal/store"
	"github.com/CaravanDesk/ChatCaravan/internal/tools"
	"github.com/CaravanDesk/ChatCaravan/internal/twiliowhatsapp"
	"github.com/CaravanDesk/ChatCaravan/internal/util"
	"github.com/CaravanDesk/ChatCaravan/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ChatCaravan state data
	DefaultStateDir = "/var/lib/chatcaravan"
	// DefaultDBFileName is the default SQLite database filename for the
	// durable conversation log
	DefaultDBFileName = "chatcaravan.db"
	// DefaultProvider is the messaging provider used when none is configured
	DefaultProvider = "greenapi"
)

func main() {
	initializeLogger(os.Getenv("LOG_LEVEL"))

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping ChatCaravan", "provider", *flags.provider)
	if err := run(config, flags); err != nil {
		slog.Error("ChatCaravan failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ChatCaravan exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir        string
	DatabaseURL     string
	RedisURL        string
	OpenAIKey       string
	OpenAIModel     string
	Provider        string
	GreenIDInstance string
	GreenAPIToken   string
	GreenAPIURL     string
	WhatsAppDSN     string
	KnowledgeDocURL string
	ManagerPhone    string
	NotionToken     string
	NotionDatabase  string
	APIAddr         string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	openaiKey    *string
	apiAddr      *string
	provider     *string
	knowledgeURL *string
	managerPhone *string
}

// initializeLogger sets up structured logging with the configured level.
func initializeLogger(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: logLevel}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:        os.Getenv("CHATCARAVAN_STATE_DIR"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		Provider:        os.Getenv("MESSAGING_PROVIDER"),
		GreenIDInstance: os.Getenv("GREEN_ID_INSTANCE"),
		GreenAPIToken:   os.Getenv("GREEN_API_TOKEN"),
		GreenAPIURL:     os.Getenv("GREEN_API_URL"),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		KnowledgeDocURL: os.Getenv("KNOWLEDGE_DOC_URL"),
		ManagerPhone:    os.Getenv("MANAGER_PHONE_NUMBER"),
		NotionToken:     os.Getenv("NOTION_TOKEN"),
		NotionDatabase:  os.Getenv("NOTION_DATABASE_ID"),
		APIAddr:         os.Getenv("API_ADDR"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CHATCARAVAN_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.Provider == "" {
		config.Provider = DefaultProvider
		slog.Debug("No MESSAGING_PROVIDER set, using default", "provider", config.Provider)
	}

	slog.Debug("environment variables loaded",
		"CHATCARAVAN_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"MESSAGING_PROVIDER", config.Provider,
		"GREEN_ID_INSTANCE_SET", config.GreenIDInstance != "",
		"KNOWLEDGE_DOC_URL_SET", config.KnowledgeDocURL != "",
		"MANAGER_PHONE_SET", config.ManagerPhone != "",
		"NOTION_TOKEN_SET", config.NotionToken != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write WhatsApp login QR code (whatsmeow provider only)"),
		numeric:      flag.Bool("numeric-code", false, "use numeric login code instead of QR code (whatsmeow provider only)"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for ChatCaravan data (overrides $CHATCARAVAN_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN for the durable conversation log (overrides $DATABASE_URL)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		provider:     flag.String("provider", config.Provider, "messaging provider: greenapi, whatsmeow or twilio (overrides $MESSAGING_PROVIDER)"),
		knowledgeURL: flag.String("knowledge-url", config.KnowledgeDocURL, "published Google Doc URL for the knowledge base (overrides $KNOWLEDGE_DOC_URL)"),
		managerPhone: flag.String("manager-phone", config.ManagerPhone, "manager WhatsApp number for notifications (overrides $MANAGER_PHONE_NUMBER)"),
	}

	flag.Parse()

	// Default the durable log to SQLite in the state directory when no
	// DSN is configured.
	if *flags.dbDSN == "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", *flags.dbDSN)
	}

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"provider", *flags.provider)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// run builds every component from configuration and serves until a
// termination signal arrives.
func run(config Config, flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A second instance sharing the state directory would corrupt the
	// SQLite databases.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	features := api.Features{Provider: *flags.provider}

	// Hot conversation tier: Redis when configured, in-process otherwise.
	hot, err := buildHotCache(config, &features)
	if err != nil {
		return err
	}

	// Durable conversation tier, degrading to a no-op log on failure.
	durable := buildDurableStore(flags, &features)

	// Close drains pending durable writes and releases both tiers.
	history := conversation.NewHistory(hot, durable, buildHistoryOptions()...)
	defer history.Close()

	client, err := genai.NewClient(buildGenAIOptions(config, flags)...)
	if err != nil {
		return err
	}

	prompts := prompt.NewProvider(buildPromptOptions(flags)...)
	speechSvc := speech.NewService(client)
	features.Speech = true

	msgService, apiOpts, err := buildMessagingService(config, flags)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(
		tools.NewKnowledgeSearchTool(prompts),
		tools.NewRegisterStudentTool(buildNotionOptions(config)...),
		tools.NewNotifyManagerTool(msgService, *flags.managerPhone),
		tools.NewCurrentDateTool(),
	)

	ag := agent.New(client, history, registry, prompts, buildAgentOptions()...)

	// Providers with their own inbound path deliver turns through the
	// incoming handler instead of the Green API webhook.
	if receiver, ok := msgService.(interface {
		SetIncomingHandler(messaging.IncomingHandler)
	}); ok {
		receiver.SetIncomingHandler(func(from string, body string) {
			reply := ag.ProcessTurn(ctx, from, body)
			if err := msgService.SendMessage(ctx, from, reply); err != nil {
				slog.Error("Failed to send reply", "error", err, "to", from)
			}
		})
	}

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	apiOpts = append(apiOpts, api.WithFeatures(features))
	server := api.NewServer(ag, history, msgService, speechSvc, apiOpts...)
	return server.Run(ctx, *flags.apiAddr)
}

// buildHotCache selects the hot conversation tier.
func buildHotCache(config Config, features *api.Features) (cache.Cache, error) {
	var cacheOpts []cache.Option
	if ttl := util.ParseDurationEnv("CHAT_HISTORY_TTL", 0); ttl > 0 {
		cacheOpts = append(cacheOpts, cache.WithTTL(ttl))
	}

	if config.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(append(cacheOpts, cache.WithURL(config.RedisURL))...)
		if err != nil {
			slog.Error("Redis unavailable, falling back to in-memory cache", "error", err)
		} else {
			slog.Info("Using Redis hot conversation cache")
			features.RedisCache = true
			return redisCache, nil
		}
	}
	slog.Info("Using in-memory hot conversation cache")
	return cache.NewMemoryCache(cacheOpts...), nil
}

// buildDurableStore opens the durable conversation log, degrading to a
// no-op store when the database cannot be opened. The bot keeps working
// on the hot tier alone.
func buildDurableStore(flags Flags, features *api.Features) store.Store {
	var (
		durable store.Store
		err     error
	)
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		durable, err = store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	} else {
		durable, err = store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
	}
	if err != nil {
		slog.Error("Durable store unavailable, conversation log disabled", "error", err)
		return store.NewNoopStore()
	}
	features.DurableStore = true
	return durable
}

// buildHistoryOptions constructs conversation history options
func buildHistoryOptions() []conversation.Option {
	var opts []conversation.Option
	if max := util.ParseIntEnv("CHAT_HISTORY_MAX", 0); max > 0 {
		opts = append(opts, conversation.WithMaxMessages(max))
	}
	return opts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if config.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(config.OpenAIModel))
	}
	return opts
}

// buildPromptOptions constructs knowledge base provider options
func buildPromptOptions(flags Flags) []prompt.Option {
	var opts []prompt.Option
	if *flags.knowledgeURL != "" {
		opts = append(opts, prompt.WithDocURL(*flags.knowledgeURL))
	}
	if refresh := util.ParseDurationEnv("KNOWLEDGE_REFRESH", 0); refresh > 0 {
		opts = append(opts, prompt.WithRefreshInterval(refresh))
	}
	return opts
}

// buildNotionOptions constructs student registration tool options
func buildNotionOptions(config Config) []tools.RegisterStudentOption {
	var opts []tools.RegisterStudentOption
	if config.NotionToken != "" {
		opts = append(opts, tools.WithNotionToken(config.NotionToken))
	}
	if config.NotionDatabase != "" {
		opts = append(opts, tools.WithNotionDatabaseID(config.NotionDatabase))
	}
	return opts
}

// buildAgentOptions constructs agent loop options
func buildAgentOptions() []agent.Option {
	var opts []agent.Option
	if n := util.ParseIntEnv("AGENT_MAX_ITERATIONS", 0); n > 0 {
		opts = append(opts, agent.WithMaxIterations(n))
	}
	return opts
}

// buildMessagingService constructs the outbound/inbound messaging service
// for the configured provider, plus any API options it needs.
func buildMessagingService(config Config, flags Flags) (messaging.Service, []api.Option, error) {
	switch strings.ToLower(*flags.provider) {
	case "greenapi":
		var opts []messaging.GreenAPIOption
		if config.GreenIDInstance != "" {
			opts = append(opts, messaging.WithIDInstance(config.GreenIDInstance))
		}
		if config.GreenAPIToken != "" {
			opts = append(opts, messaging.WithAPIToken(config.GreenAPIToken))
		}
		if config.GreenAPIURL != "" {
			opts = append(opts, messaging.WithBaseURL(config.GreenAPIURL))
		}
		return messaging.NewGreenAPIService(opts...), nil, nil

	case "whatsmeow":
		waOpts := []whatsapp.Option{}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		if config.WhatsAppDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsAppDSN))
		} else {
			waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")))
		}
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsMeowService(waClient), nil, nil

	case "twilio":
		twClient, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		service := messaging.NewTwilioService(twClient)
		apiOpts := []api.Option{api.WithInboundWebhook("POST /webhook/twilio", service.WebhookHandler)}
		return service, apiOpts, nil

	default:
		return nil, nil, fmt.Errorf("unknown messaging provider: %s", *flags.provider)
	}
}
