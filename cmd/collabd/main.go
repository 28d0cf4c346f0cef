// Command collabd runs one collaboration peer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dd0wney/cluso-collab/pkg/config"
	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/node"
	"github.com/dd0wney/cluso-collab/pkg/server"
)

type flags struct {
	configFile string
	envFile    string
	seedFile   string

	id        string
	host      string
	port      int
	transport string
	driver    string
	storeURL  string
	logLevel  string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configFile, "config", "", "YAML configuration file")
	flag.StringVar(&f.envFile, "env", ".env", "Environment file (ignored when missing)")
	flag.StringVar(&f.seedFile, "seed", "", "JSON file of graph documents written to the store before start")

	flag.StringVar(&f.id, "id", "", "Peer id (default: generated)")
	flag.StringVar(&f.host, "host", "", "Advertised host")
	flag.IntVar(&f.port, "port", 0, "Control port; the collaboration port is derived from it")
	flag.StringVar(&f.transport, "transport", "", "Fabric transport")
	flag.StringVar(&f.driver, "store", "", "Store driver: memory, postgres or redis")
	flag.StringVar(&f.storeURL, "store-url", "", "Store connection URL")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flag.Parse()
	return f
}

// apply overrides the loaded configuration with flags that were set
func (f flags) apply(cfg *config.Config) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "id":
			cfg.Node.ID = f.id
		case "host":
			cfg.Node.Host = f.host
		case "port":
			cfg.Node.Port = f.port
		case "transport":
			cfg.Cluster.Transport = f.transport
		case "store":
			cfg.Store.Driver = f.driver
		case "store-url":
			cfg.Store.URL = f.storeURL
		case "log-level":
			cfg.Log.Level = f.logLevel
		}
	})
}

func (f flags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configFile, f.envFile)
	if err != nil {
		return nil, err
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	f := parseFlags()

	cfg, err := f.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "collabd: %v\n", err)
		os.Exit(2)
	}

	logger := logging.NewJSONLogger(os.Stdout, cfg.LogLevel())
	if err := run(f, cfg, logger); err != nil {
		logger.Error("collabd exited", logging.Error(err))
		os.Exit(1)
	}
}

func run(f flags, cfg *config.Config, logger logging.Logger) error {
	ctx := context.Background()

	n, err := node.New(ctx, *cfg, node.Options{Logger: logger})
	if err != nil {
		return err
	}

	if f.seedFile != "" {
		count, err := seed(ctx, n.Store(), f.seedFile)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info("seeded graphs", logging.Count(count), logging.String("file", f.seedFile))
	}

	if err := n.Start(ctx); err != nil {
		return err
	}

	reload := func() error {
		next, err := f.load()
		if err != nil {
			return err
		}
		n.Reload(*next)
		return nil
	}
	sig := server.WaitForSignal(ctx, reload, logger)
	logger.Info("shutting down", logging.String("signal", fmt.Sprint(sig)))

	stopCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return n.Stop(stopCtx)
}

// seed writes every document of a JSON file (one document or an array)
// to the store, replacing graphs with the same key.
func seed(ctx context.Context, store graph.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var docs []graph.Document
	if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
		err = json.Unmarshal(data, &docs)
	} else {
		var doc graph.Document
		err = json.Unmarshal(data, &doc)
		docs = append(docs, doc)
	}
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	for i := range docs {
		if docs[i].Key == "" {
			return i, fmt.Errorf("document %d has no key", i)
		}
		if err := store.SaveGraph(ctx, &docs[i]); err != nil {
			return i, fmt.Errorf("save %s: %w", docs[i].Key, err)
		}
	}
	return len(docs), nil
}
