// Command fakeproxy stands in for the managed proxy binary: it answers the
// version query, reads its config the way the real binary does and idles until signalled.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-proxykeeper/pkg/proxyconfig"
)

type flagOptions struct {
	Version       bool   `long:"version" description:"print the version line and exit"`
	Config        string `short:"c" long:"config" description:"config file, or \"stdin:\" to read it from standard input"`
	ReportVersion string `long:"report-version" env:"FAKEPROXY_VERSION" default:"1.8.4" description:"version reported by --version"`
	RunDuration   int    `long:"run-duration" description:"Duration in seconds to run (debug feature)"`
	IgnoreSigterm bool   `long:"ignore-sigterm" description:"keep running on SIGTERM (debug feature)"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag|flags.IgnoreUnknown)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Xray %s (Xray, Penetrates Everything.) Custom (%s %s/%s)\n",
			opts.ReportVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Println("A unified platform for anti-censorship.")
		return
	}

	doc, err := readConfig(opts.Config)
	if err != nil {
		fmt.Printf("Failed to read config: %v\n", err)
		os.Exit(23)
	}
	for _, inbound := range doc.Inbounds {
		fmt.Printf("Inbound %s on port %d, network: %s, path: %s\n",
			inbound.Protocol, inbound.Port, inbound.StreamSettings.Network, inbound.StreamSettings.WSSettings.Path)
	}

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else if opts.IgnoreSigterm {
		signal.Ignore(syscall.SIGTERM)
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	fmt.Printf("Fakeproxy started\n")

	select {
	case receivedSignal := <-sig:
		fmt.Printf("Fakeproxy received signal: %v\n", receivedSignal)
	case <-ctx.Done():
		fmt.Printf("Fakeproxy timed out\n")
	}

	fmt.Printf("Fakeproxy stopped\n")
}

func readConfig(source string) (*proxyconfig.Document, error) {
	if source == "" {
		return nil, fmt.Errorf("no config given, use -c")
	}

	var data []byte
	var err error
	if source == "stdin:" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}

	// yaml also accepts JSON documents
	format := proxyconfig.FormatYAML
	if filepath.Ext(source) == ".json" {
		format = proxyconfig.FormatJSON
	}
	return proxyconfig.Unmarshal(format, data)
}
