// sentryd is the device-side runtime security monitor daemon.
//
//	sentryd run             Run the daemon (default)
//	sentryd check-config    Validate the configuration file and exit
//	sentryd version         Print the version and exit
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sentryd/internal/config"
)

// Version is the daemon version string.
const Version = "1.2.0"

var (
	configPath  = flag.String("config", "", "path to config file")
	simulate    = flag.Bool("simulate", false, "use the in-memory platform backend")
	metricsAddr = flag.String("metrics-addr", "", "HTTP address for metrics and health exposition (disabled when empty)")
)

func main() {
	flag.Parse()

	cmd := "run"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	switch cmd {
	case "run":
		cmdRun()
	case "check-config":
		cmdCheckConfig()
	case "version":
		fmt.Println("sentryd", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `sentryd - device runtime security monitor

Usage: sentryd [options] <command>

Commands:
  run             Run the daemon (default)
  check-config    Validate the configuration file and exit
  version         Print the version
  help            Show this help message

Options:
  -config <path>        Path to config file (default: XDG config dir)
  -simulate             Use the in-memory platform backend
  -metrics-addr <addr>  Serve metrics and health over HTTP on addr`)
}

func cmdRun() {
	d, err := newDaemon(*configPath, *simulate, *metricsAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentryd: %v\n", err)
		os.Exit(1)
	}
	if err := d.start(); err != nil {
		fmt.Fprintf(os.Stderr, "sentryd: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			d.reload()
			continue
		}
		break
	}
	d.stop()
}

func cmdCheckConfig() {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentryd: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "sentryd: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: configuration is valid\n", path)
}
