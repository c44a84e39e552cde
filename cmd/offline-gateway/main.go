package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/gateway"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the gateway config file")
	flag.Parse()

	if env := os.Getenv("GATEWAY_CONFIG"); env != "" {
		*configPath = env
	}

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := gateway.New(mainCtx, *configPath)
	if err != nil {
		fmt.Printf("Failed to create gateway: %v\n", err)
		os.Exit(1)
	}

	if err := gw.Start(); err != nil {
		gateway.Logger().Error("Failed to start gateway", zap.Error(err))
		os.Exit(1)
	}
}
