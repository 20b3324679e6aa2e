// sentryctl is the control CLI for sentryd.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"sentryd/internal/config"
	"sentryd/internal/ipc"
)

var (
	socketPath = flag.String("socket", "", "path to the daemon socket")
	timeout    = flag.Duration("timeout", 10*time.Second, "request timeout")
	asJSON     = flag.Bool("json", false, "print machine-readable JSON")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "ping":
		cmdPing()
	case "status":
		cmdStatus()
	case "health":
		cmdHealth()
	case "probe":
		cmdProbe(flag.Arg(1))
	case "audit":
		cmdAudit(flag.Arg(1))
	case "overlay":
		cmdOverlay(flag.Arg(1), flag.Arg(2))
	case "journal":
		cmdJournal(flag.Args()[1:])
	case "watch":
		cmdWatch(flag.Args()[1:])
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `sentryctl - control utility for sentryd

Usage: sentryctl [options] <command> [args]

Commands:
  ping                      Check that the daemon answers
  status                    Show daemon status
  health                    Run the daemon's component health checks
  probe admin|devmode       Query device state
  audit services            List active accessibility services
  audit check               Run allow/deny checks with the daemon's lists
  overlay hide on|off       Toggle overlay-window hiding
  overlay block on|off      Toggle obscured-touch filtering
  journal recent [opts]     Show recent journal records
  journal verify            Verify the journal's tamper-evidence chain
  watch <kind> [kind...]    Stream observer events until interrupted
  help                      Show this help message

Observer kinds:
  touch_obscuring display_count call_state microphone_activity

Options:
  -socket <path>  Daemon socket path (default: runtime dir)
  -timeout <d>    Request timeout (default 10s)
  -json           Print machine-readable JSON`)
}

func connect() *ipc.Client {
	path := *socketPath
	if path == "" {
		path = config.DefaultSocketPath()
	}
	c, err := ipc.Dial(path, ipc.ClientOptions{Timeout: *timeout})
	if err != nil {
		fatal(err)
	}
	return c
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "sentryctl: %v\n", err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func cmdPing() {
	c := connect()
	defer c.Close()
	if err := c.Ping(); err != nil {
		fatal(err)
	}
	fmt.Println("daemon is up")
}

func cmdStatus() {
	c := connect()
	defer c.Close()

	status, err := c.Status()
	if err != nil {
		fatal(err)
	}
	if *asJSON {
		printJSON(status)
		return
	}

	fmt.Printf("Version:          %s\n", status.Version)
	fmt.Printf("Uptime:           %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Printf("Platform:         %s (API level %d)\n", status.PlatformDetail, status.APILevel)
	if len(status.ActiveObservers) == 0 {
		fmt.Println("Active observers: none")
	} else {
		fmt.Print("Active observers: ")
		for i, name := range status.ActiveObservers {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Print(name)
		}
		fmt.Println()
	}
	sealed := ""
	if status.JournalSealed {
		sealed = " (sealed)"
	}
	fmt.Printf("Journal records:  %d%s\n", status.JournalRecords, sealed)
}

func cmdHealth() {
	c := connect()
	defer c.Close()

	resp, err := c.Health()
	if err != nil {
		fatal(err)
	}
	if *asJSON {
		printJSON(resp)
		return
	}

	names := make([]string, 0, len(resp.Components))
	for name := range resp.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		comp := resp.Components[name]
		state := "ok"
		if !comp.Healthy {
			state = "FAILED"
			if comp.Detail != "" {
				state += ": " + comp.Detail
			}
		}
		marker := " "
		if comp.Critical {
			marker = "*"
		}
		fmt.Printf("%s %-10s %s\n", marker, name, state)
	}
	if resp.Healthy {
		fmt.Println("overall: healthy")
	} else {
		fmt.Println("overall: UNHEALTHY")
		os.Exit(1)
	}
}

func cmdProbe(what string) {
	c := connect()
	defer c.Close()

	var (
		value bool
		err   error
	)
	switch what {
	case "admin":
		value, err = c.ProbeAdmin()
	case "devmode":
		value, err = c.ProbeDevMode()
	default:
		fatal(fmt.Errorf("usage: sentryctl probe admin|devmode"))
	}
	if err != nil {
		fatal(err)
	}
	fmt.Println(value)
}

func cmdAudit(sub string) {
	c := connect()
	defer c.Close()

	switch sub {
	case "services":
		services, err := c.AuditServices()
		if err != nil {
			fatal(err)
		}
		if *asJSON {
			printJSON(services)
			return
		}
		if len(services) == 0 {
			fmt.Println("no accessibility services enabled")
			return
		}
		for _, id := range services {
			fmt.Println(id)
		}
	case "check":
		verdict, err := c.AuditCheck(nil, nil)
		if err != nil {
			fatal(err)
		}
		if *asJSON {
			printJSON(verdict)
			return
		}
		fmt.Printf("all allowed: %v\n", verdict.AllAllowed)
		fmt.Printf("any denied:  %v\n", verdict.AnyDenied)
		if verdict.AnyDenied || !verdict.AllAllowed {
			os.Exit(1)
		}
	default:
		fatal(fmt.Errorf("usage: sentryctl audit services|check"))
	}
}

func cmdOverlay(sub, state string) {
	enable, err := strconv.ParseBool(mapOnOff(state))
	if err != nil {
		fatal(fmt.Errorf("usage: sentryctl overlay hide|block on|off"))
	}

	c := connect()
	defer c.Close()

	switch sub {
	case "hide":
		err = c.OverlayHide(enable)
	case "block":
		err = c.OverlayBlock(enable)
	default:
		fatal(fmt.Errorf("usage: sentryctl overlay hide|block on|off"))
	}
	if err != nil {
		fatal(err)
	}
	fmt.Println("applied")
}

func mapOnOff(s string) string {
	switch s {
	case "on":
		return "true"
	case "off":
		return "false"
	}
	return s
}

func cmdJournal(args []string) {
	if len(args) < 1 {
		fatal(fmt.Errorf("usage: sentryctl journal recent|verify"))
	}

	switch args[0] {
	case "recent":
		fs := flag.NewFlagSet("journal recent", flag.ExitOnError)
		kind := fs.String("kind", "", "filter by observer kind")
		limit := fs.Int("n", 20, "maximum records")
		fs.Parse(args[1:])

		c := connect()
		defer c.Close()

		records, err := c.JournalRecent(*kind, *limit)
		if err != nil {
			fatal(err)
		}
		if *asJSON {
			printJSON(records)
			return
		}
		for _, r := range records {
			fmt.Printf("%s  %-20s %s\n",
				r.ObservedAt.Format(time.RFC3339), r.Kind, string(r.Payload))
		}
	case "verify":
		c := connect()
		defer c.Close()

		valid, err := c.JournalVerify()
		if err != nil {
			fatal(err)
		}
		if !valid {
			fmt.Println("journal chain: BROKEN")
			os.Exit(1)
		}
		fmt.Println("journal chain: ok")
	default:
		fatal(fmt.Errorf("usage: sentryctl journal recent|verify"))
	}
}

func cmdWatch(kinds []string) {
	if len(kinds) == 0 {
		fatal(fmt.Errorf("usage: sentryctl watch <kind> [kind...]"))
	}

	c := connect()
	defer c.Close()

	for _, kind := range kinds {
		if err := c.Watch(kind); err != nil {
			fatal(err)
		}
	}

	for ev := range c.Events() {
		if *asJSON {
			printJSON(ev)
			continue
		}
		fmt.Printf("%s  %-20s %s\n",
			ev.ObservedAt.Format(time.RFC3339), ev.Kind, string(ev.Payload))
	}
	if err := c.Err(); err != nil {
		fatal(err)
	}
}
