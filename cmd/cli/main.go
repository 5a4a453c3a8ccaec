package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	timeout   string
	language  string
)

func main() {
	root := &cobra.Command{
		Use:   "desk-sandbox-cli",
		Short: "CLI client for agent-desk-sandbox",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SANDBOX_API_KEY"), "API key")

	execCmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Execute code in a fresh sandbox (reads stdin when no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().StringVar(&timeout, "timeout", "30s", "Execution timeout")
	execCmd.Flags().StringVarP(&language, "language", "l", "python", "Language (python, node, shell)")
	root.AddCommand(execCmd)

	execFileCmd := &cobra.Command{
		Use:   "exec-file [file]",
		Short: "Execute code from a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecFile,
	}
	execFileCmd.Flags().StringVar(&timeout, "timeout", "30s", "Execution timeout")
	execFileCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from extension)")
	root.AddCommand(execFileCmd)

	uiCmd := &cobra.Command{
		Use:   "ui",
		Short: "Control the virtual-desktop container",
	}
	uiCmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start the desktop container",
			RunE: func(*cobra.Command, []string) error {
				return postAndPrint("/ui/start", nil)
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the desktop container",
			RunE: func(*cobra.Command, []string) error {
				return postAndPrint("/ui/stop", nil)
			},
		},
		&cobra.Command{
			Use:   "state",
			Short: "Show the desktop state (geometry, screenshot availability)",
			RunE: func(*cobra.Command, []string) error {
				return getAndPrint("/ui/state")
			},
		},
		&cobra.Command{
			Use:   "click [x] [y]",
			Short: "Click at the given coordinates",
			Args:  cobra.ExactArgs(2),
			RunE:  runUIClick,
		},
		&cobra.Command{
			Use:   "type [text]",
			Short: "Type text into the focused element",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return postAndPrint("/ui/act", map[string]any{
					"action": map[string]any{"type": "type", "text": args[0]},
				})
			},
		},
		&cobra.Command{
			Use:   "key [keysym]",
			Short: "Press a key or chord (e.g. Return, ctrl+s)",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return postAndPrint("/ui/act", map[string]any{
					"action": map[string]any{"type": "key", "key": args[0]},
				})
			},
		},
		&cobra.Command{
			Use:   "screenshot [output.png]",
			Short: "Capture the display to a PNG file",
			Args:  cobra.ExactArgs(1),
			RunE:  runUIScreenshot,
		},
	)
	root.AddCommand(uiCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(*cobra.Command, []string) error {
			return getAndPrint("/health")
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExec(cmd *cobra.Command, args []string) error {
	var code string

	if len(args) > 0 {
		code = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		code = string(data)
	}

	return executeCode(code, language)
}

func runExecFile(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	if language == "" {
		switch ext := fileExtension(args[0]); ext {
		case ".py":
			language = "python"
		case ".js":
			language = "node"
		case ".sh":
			language = "shell"
		default:
			return fmt.Errorf("cannot detect language for extension %q, use --language flag", ext)
		}
	}

	return executeCode(string(data), language)
}

func executeCode(code, lang string) error {
	result, err := doJSON(http.MethodPost, "/execute", map[string]any{
		"code":     code,
		"language": lang,
		"timeout":  timeout,
	})
	if err != nil {
		return err
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	// Exit with the sandbox exit code
	if exitCode, ok := result["exit_code"].(float64); ok && exitCode != 0 {
		os.Exit(int(exitCode))
	}
	return nil
}

func runUIClick(_ *cobra.Command, args []string) error {
	x, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("x: %w", err)
	}
	y, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("y: %w", err)
	}
	return postAndPrint("/ui/act", map[string]any{
		"action": map[string]any{"type": "click", "x": x, "y": y},
	})
}

func runUIScreenshot(_ *cobra.Command, args []string) error {
	result, err := doJSON(http.MethodGet, "/ui/screenshot", nil)
	if err != nil {
		return err
	}

	b64, _ := result["screenshot_b64"].(string)
	if b64 == "" {
		return fmt.Errorf("screenshot unavailable")
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decoding screenshot: %w", err)
	}
	if err := os.WriteFile(args[0], data, 0o644); err != nil { // #nosec G306 -- user-requested output file
		return err
	}
	fmt.Printf("wrote %d bytes to %s\n", len(data), args[0])
	return nil
}

func postAndPrint(path string, payload any) error {
	result, err := doJSON(http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func getAndPrint(path string) error {
	result, err := doJSON(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func doJSON(method, path string, payload any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 180 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

func fileExtension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}
