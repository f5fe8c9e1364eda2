package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/ncecere/snowflake_query_monitor/internal/config"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "path to config.json")
	secretsFile := pflag.StringP("secrets", "s", "", "path to secrets.toml")
	pflag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, SecretsFile: *secretsFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	for _, w := range cfg.Warnings {
		log.Printf("warning: %s", w)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg.Redacted()); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
