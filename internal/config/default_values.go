package config

const (
	DefaultProviderBaseURL    = "https://api.anthropic.com/v1/"
	DefaultProviderModel      = "claude-sonnet-4-20250514"
	DefaultProviderMaxRetries = 3

	DefaultAnkiURL       = "http://localhost:8765"
	DefaultAnkiTimeoutMS = 30000

	DefaultRuntimeMaxRounds         = 25
	DefaultRuntimeContextTokenLimit = 200000

	DefaultCompactionThreshold      = 0.8
	DefaultCompactionRecentMessages = 12

	DefaultDelegateMaxWorkers  = 5
	DefaultDelegateRateLimitMS = 100
	MaxDelegateWorkers         = 10

	DefaultStorageChatLogMax = 100
)

// DefaultProviderModels is the menu offered by the model command.
var DefaultProviderModels = []string{
	"claude-sonnet-4-20250514",
	"claude-opus-4-20250514",
	"claude-3-5-haiku-20241022",
}
