// ptkctl is a small operator tool for poking a running daemon: read
// status, tail session events, fire interrupts, inject synthetic key
// edges and mint worker tokens.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

func main() {
	var (
		addr      = pflag.String("addr", "http://127.0.0.1:7355", "daemon base URL")
		reason    = pflag.String("reason", "operator", "interrupt reason")
		key       = pflag.String("key", "f13", "key for inject")
		modifiers = pflag.String("modifiers", "alt", "comma-separated modifiers for inject")
		role      = pflag.String("role", "", "worker role for token")
		ttl       = pflag.Int64("ttl", 3600, "token lifetime in seconds")
	)
	pflag.Usage = usage
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "status":
		err = get(*addr + "/status")
	case "events":
		if len(args) < 2 {
			fail("events requires a session id")
		}
		err = get(*addr + "/sessions/" + args[1] + "/events")
	case "interrupt":
		if len(args) < 2 {
			fail("interrupt requires a session id")
		}
		err = post(*addr+"/interrupt", map[string]any{
			"session_id": args[1],
			"reason":     *reason,
		})
	case "keys":
		if len(args) < 2 || (args[1] != "down" && args[1] != "up") {
			fail("keys requires a direction: down or up")
		}
		err = post(*addr+"/debug/keys", map[string]any{
			"kind":      args[1],
			"key":       *key,
			"modifiers": splitList(*modifiers),
		})
	case "token":
		if *role == "" {
			fail("token requires --role")
		}
		err = post(*addr+"/worker-token", map[string]any{
			"role":        *role,
			"ttl_seconds": *ttl,
		})
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fail(err.Error())
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ptkctl [flags] <command>

commands:
  status                    print daemon status
  events <session-id>       print a session's event log
  interrupt <session-id>    cancel a session's in-flight work
  keys <down|up>            inject a synthetic chord edge
  token --role <role>       mint a worker token

flags:`)
	pflag.PrintDefaults()
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "ptkctl:", msg)
	os.Exit(1)
}

func get(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func post(url string, body map[string]any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func printBody(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
		return nil
	}
	fmt.Println(strings.TrimSpace(string(raw)))
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
