package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrife/plover/command"
	"github.com/jrife/plover/config"
	"github.com/jrife/plover/server"
	"github.com/jrife/plover/storage/kv"
	"github.com/jrife/plover/storage/kv/plugins"
	"github.com/jrife/plover/storage/txn"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configFile  string
	showVersion bool
	version     string
	build       string
)

func main() {
	flag.StringVar(&configFile, "c", "", "configure file path")
	flag.BoolVar(&showVersion, "version", false, "show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("plover %s (build at %s)\n", version, build)

		return
	}

	conf, err := config.LoadConfig(configFile)

	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %s\n", err.Error())
		os.Exit(1)
	}

	logger, err := buildLogger(conf.Log.Level)

	if err != nil {
		fmt.Fprintf(os.Stderr, "could not build logger: %s\n", err.Error())
		os.Exit(1)
	}

	defer logger.Sync()

	plugin := plugins.Plugin(conf.DB.Driver)

	if plugin == nil {
		logger.Fatal("no such storage driver", zap.String("driver", conf.DB.Driver))
	}

	store, err := plugin.NewStore(kv.PluginOptions{
		"path":   conf.DB.Path,
		"logger": logger.Named("storage"),
	})

	if err != nil {
		logger.Fatal("could not open store", zap.Error(err))
	}

	defer store.Close()

	engine, err := txn.New(txn.EngineConfig{
		Logger: logger.Named("txn"),
		Store:  store,
		Dir:    filepath.Join(conf.DB.Path, "transactions"),
	})

	if err != nil {
		logger.Fatal("could not create transaction engine", zap.Error(err))
	}

	processor := command.New(command.ProcessorConfig{
		Logger: logger.Named("command"),
		Engine: engine,
	})

	srv := server.New(server.ServerConfig{
		Logger:    logger.Named("server"),
		Processor: processor,
	})

	if err := srv.Run(conf.Server.Addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level

	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)

	return zapConfig.Build()
}
