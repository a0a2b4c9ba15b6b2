// Package main provides tascadectl, an operator CLI for a running
// coordinatord: checking health and status, issuing API keys, creating and
// listing projects, and listing and claiming ready tasks from a terminal.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	defaultAddr := getenv("TASCADE_ADDR", "http://localhost:8080")
	defaultToken := os.Getenv("TASCADE_TOKEN")

	root := flag.NewFlagSet("tascadectl", flag.ContinueOnError)
	root.SetOutput(io.Discard)
	addrFlag := root.String("addr", defaultAddr, "coordinatord base URL (env TASCADE_ADDR)")
	tokenFlag := root.String("token", defaultToken, "bearer token (env TASCADE_TOKEN)")
	timeoutFlag := root.Duration("timeout", 15*time.Second, "HTTP request timeout")
	if err := root.Parse(args); err != nil {
		return usageError(err)
	}

	remaining := root.Args()
	if len(remaining) == 0 {
		return usageError(errors.New("no command specified"))
	}

	client := &apiClient{
		baseURL: strings.TrimRight(*addrFlag, "/"),
		token:   strings.TrimSpace(*tokenFlag),
		http:    &http.Client{Timeout: *timeoutFlag},
	}

	switch remaining[0] {
	case "health":
		return handleHealth(ctx, client)
	case "status":
		return handleStatus(ctx, client)
	case "apikeys":
		return handleAPIKeys(ctx, client, remaining[1:])
	case "projects":
		return handleProjects(ctx, client, remaining[1:])
	case "tasks":
		return handleTasks(ctx, client, remaining[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		return usageError(fmt.Errorf("unknown command %q", remaining[0]))
	}
}

func usageError(err error) error {
	printRootUsage()
	return err
}

func printRootUsage() {
	fmt.Println(`tascadectl - operator CLI for the task coordination kernel

Usage:
  tascadectl [global flags] <command> [subcommand] [flags]

Global flags:
  --addr      coordinatord base URL (env TASCADE_ADDR, default http://localhost:8080)
  --token     bearer token (env TASCADE_TOKEN)
  --timeout   HTTP timeout (default 15s)

Commands:
  health                         check /healthz
  status                         show /v1/system/status
  apikeys issue <name> <role>    mint a bearer credential (role: admin|operator|agent|read_only)
  projects create <name> <short_id>
  projects list
  tasks ready <project_id> [agent_id] [capabilities]
  tasks claim <task_id> <agent_id> <plan_version>`)
}

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *apiClient) request(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		var parsed struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &parsed) == nil && parsed.Error.Message != "" {
			msg = fmt.Sprintf("%s (%s)", parsed.Error.Message, parsed.Error.Code)
		}
		return nil, fmt.Errorf("%s %s: %s (status %d)", method, path, msg, resp.StatusCode)
	}
	return data, nil
}

func handleHealth(ctx context.Context, c *apiClient) error {
	data, err := c.request(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func handleStatus(ctx context.Context, c *apiClient) error {
	data, err := c.request(ctx, http.MethodGet, "/v1/system/status", nil)
	if err != nil {
		return err
	}
	prettyPrint(data)
	return nil
}

func handleAPIKeys(ctx context.Context, c *apiClient, args []string) error {
	if len(args) == 0 {
		return errors.New("apikeys: expected a subcommand (issue)")
	}
	switch args[0] {
	case "issue":
		if len(args) < 3 {
			return errors.New("apikeys issue: usage: apikeys issue <name> <role> [project_id...]")
		}
		payload := map[string]any{
			"name":        args[1],
			"role":        args[2],
			"project_ids": args[3:],
		}
		data, err := c.request(ctx, http.MethodPost, "/v1/apikeys", payload)
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	default:
		return fmt.Errorf("apikeys: unknown subcommand %q", args[0])
	}
}

func handleProjects(ctx context.Context, c *apiClient, args []string) error {
	if len(args) == 0 {
		return errors.New("projects: expected a subcommand (create, list)")
	}
	switch args[0] {
	case "create":
		if len(args) < 3 {
			return errors.New("projects create: usage: projects create <name> <short_id>")
		}
		data, err := c.request(ctx, http.MethodPost, "/v1/projects", map[string]any{"name": args[1], "short_id": args[2]})
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	case "list":
		data, err := c.request(ctx, http.MethodGet, "/v1/projects", nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	default:
		return fmt.Errorf("projects: unknown subcommand %q", args[0])
	}
}

func handleTasks(ctx context.Context, c *apiClient, args []string) error {
	if len(args) == 0 {
		return errors.New("tasks: expected a subcommand (ready, claim)")
	}
	switch args[0] {
	case "ready":
		if len(args) < 2 {
			return errors.New("tasks ready: usage: tasks ready <project_id> [agent_id] [capabilities]")
		}
		path := fmt.Sprintf("/v1/tasks/ready?project_id=%s", args[1])
		if len(args) > 2 {
			path += "&agent_id=" + args[2]
		}
		if len(args) > 3 {
			path += "&capabilities=" + args[3]
		}
		data, err := c.request(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	case "claim":
		if len(args) < 4 {
			return errors.New("tasks claim: usage: tasks claim <task_id> <agent_id> <plan_version>")
		}
		planVersion, err := parseInt(args[3])
		if err != nil {
			return fmt.Errorf("invalid plan_version: %w", err)
		}
		path := fmt.Sprintf("/v1/tasks/%s/claim", args[1])
		data, err := c.request(ctx, http.MethodPost, path, map[string]any{"agent_id": args[2], "plan_version": planVersion})
		if err != nil {
			return err
		}
		prettyPrint(data)
		return nil
	default:
		return fmt.Errorf("tasks: unknown subcommand %q", args[0])
	}
}

func prettyPrint(data []byte) {
	if len(data) == 0 {
		fmt.Println("(empty)")
		return
	}
	var dst bytes.Buffer
	if err := json.Indent(&dst, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(dst.String())
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
