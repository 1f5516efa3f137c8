package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"percepto-server-go/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	fmt.Printf("[%s] [INFO] [Boot] starting percepto-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background(), bootstrap.Options{ConfigPath: *configPath}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "percepto-server failed: %v\n", err)
		os.Exit(1)
	}
}
