package types

// Config is the application configuration. It is read once at startup from an
// optional yaml file with environment variable overrides and passed by
// reference into every component that needs it.
type Config struct {
	Chain struct {
		Network string `yaml:"network" envconfig:"CHAIN_NETWORK"`
	} `yaml:"chain"`
	BeaconchaIn struct {
		BaseURL           string  `yaml:"baseUrl" envconfig:"BEACONCHAIN_BASE_URL"`
		APIKey            string  `yaml:"apiKey" envconfig:"BEACONCHAIN_API_KEY"`
		RequestsPerSecond float64 `yaml:"requestsPerSecond" envconfig:"BEACONCHAIN_REQUESTS_PER_SECOND"`
		TimeoutSeconds    uint64  `yaml:"timeoutSeconds" envconfig:"BEACONCHAIN_TIMEOUT_SECONDS"`
	} `yaml:"beaconchain"`
	Rpc struct {
		Endpoints      []string `yaml:"endpoints" envconfig:"RPC_ENDPOINTS"`
		TimeoutSeconds uint64   `yaml:"timeoutSeconds" envconfig:"RPC_TIMEOUT_SECONDS"`
	} `yaml:"rpc"`
	Verify struct {
		T5ToleranceMinGwei uint64 `yaml:"t5ToleranceMinGwei" envconfig:"VERIFY_T5_TOLERANCE_MIN_GWEI"`
		T5ToleranceMaxGwei uint64 `yaml:"t5ToleranceMaxGwei" envconfig:"VERIFY_T5_TOLERANCE_MAX_GWEI"`
		RunTimeoutSeconds  uint64 `yaml:"runTimeoutSeconds" envconfig:"VERIFY_RUN_TIMEOUT_SECONDS"`
	} `yaml:"verify"`
	Output struct {
		Dir string `yaml:"dir" envconfig:"OUTPUT_DIR"`
	} `yaml:"output"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" envconfig:"METRICS_ENABLED"`
		Address string `yaml:"address" envconfig:"METRICS_ADDRESS"`
	} `yaml:"metrics"`
}
