package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"kvnode/internal/server"
)

func main() {
	fs := flag.NewFlagSet("kvnode", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	fs.StringVar(&configPath, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "Configuration file path (YAML)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "the --config flag is required")
		fs.Usage()
		os.Exit(2)
	}

	node, err := server.New(configPath)
	if err != nil {
		log.Fatalf("kvnode: %v", err)
	}

	if err := node.Start(); err != nil {
		log.Fatalf("kvnode: %v", err)
	}

	if node.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(node.MetricsAddr, node.MetricsHandler); err != nil && err != http.ErrServerClosed {
				node.Logf("metrics server exited: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("kvnode: signal %v received, shutting down", sig)
	node.Stop()
}
