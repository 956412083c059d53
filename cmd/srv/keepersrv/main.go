package main

import (
	"context"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-proxykeeper/pkg/keeper"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
)

type flagOptions struct {
	Config    string `long:"config" short:"c" description:"keeper configuration file (YAML), defaults are used when omitted"`
	WorkDir   string `long:"work-dir" description:"directory holding the managed binary, its config and the keeper lock"`
	LogLevel  string `long:"log-level" description:"debug, info, warn or error"`
	LogFormat string `long:"log-format" description:"console or json"`
	Validate  bool   `long:"validate" description:"validate the configuration and exit"`

	DBURL string `long:"db-url" env:"REPLIT_DB_URL" description:"key-value store holding the identity"`
	Slug  string `long:"slug" env:"REPL_SLUG" description:"host slug used in the public address"`
	Owner string `long:"owner" env:"REPL_OWNER" description:"host owner used in the public address"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	config := keeper.DefaultConfig()
	if opts.Config != "" {
		config, err = keeper.LoadConfigFromFile(opts.Config)
		if err != nil {
			fmt.Printf("Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	if opts.WorkDir != "" {
		config.Keeper.WorkDir = opts.WorkDir
	}
	if opts.LogLevel != "" {
		config.Keeper.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		config.Keeper.LogFormat = opts.LogFormat
	}

	env := keeper.Environment{
		DBURL: opts.DBURL,
		Slug:  opts.Slug,
		Owner: opts.Owner,
	}

	if opts.Validate {
		if err := keeper.ValidateConfig(config); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		if err := keeper.ValidateEnvironment(config, env); err != nil {
			fmt.Printf("Environment is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		return
	}

	logFuncs, syncLogs := logging.NewZapLogFuncs(logging.ZapConfig{
		Level:  config.Keeper.LogLevel,
		Format: config.Keeper.LogFormat,
	})
	logger := logging.NewLogger("module: hsu-proxykeeper, ", logFuncs)

	exit := func(code int) {
		_ = syncLogs()
		os.Exit(code)
	}

	k, err := keeper.New(config, env, keeper.Options{Exit: exit}, logFuncs)
	if err != nil {
		logger.Errorf("Failed to create keeper: %v", err)
		exit(1)
	}

	if err := k.Run(context.Background()); err != nil {
		logger.Errorf("Keeper failed: %v", err)
		exit(1)
	}
}
