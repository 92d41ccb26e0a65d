package utils

import (
	"eth2-verifier/types"
	"eth2-verifier/version"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// BuildVersion returns a human readable build identifier.
func BuildVersion() string {
	return fmt.Sprintf("%v (%v)", version.Version, version.GoVersion)
}

// ReadConfig will process a configuration: defaults, then the optional yaml
// file at path, then environment variable overrides.
func ReadConfig(cfg *types.Config, path string) error {
	setDefaults(cfg)

	if path != "" {
		if err := readConfigFile(cfg, path); err != nil {
			return err
		}
	}

	return readConfigEnv(cfg)
}

func setDefaults(cfg *types.Config) {
	cfg.Chain.Network = "mainnet"
	cfg.BeaconchaIn.BaseURL = "https://beaconcha.in"
	cfg.BeaconchaIn.RequestsPerSecond = 1
	cfg.BeaconchaIn.TimeoutSeconds = 30
	cfg.Rpc.Endpoints = []string{
		"https://eth-beacon-chain.drpc.org",
		"https://ethereum-beacon-api.publicnode.com",
	}
	cfg.Rpc.TimeoutSeconds = 30
	cfg.Verify.T5ToleranceMinGwei = 2_000
	cfg.Verify.T5ToleranceMaxGwei = 15_000
	cfg.Verify.RunTimeoutSeconds = 600
	cfg.Output.Dir = "./investigations"
	cfg.Metrics.Address = "localhost:9091"
}

func readConfigFile(cfg *types.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening config file %v: %v", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	err = decoder.Decode(cfg)
	if err != nil {
		return fmt.Errorf("error decoding config file %v: %v", path, err)
	}

	return nil
}

func readConfigEnv(cfg *types.Config) error {
	return envconfig.Process("", cfg)
}

