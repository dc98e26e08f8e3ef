// Command webhook_replay re-posts captured LigdiCash callbacks to a running
// API instance. Payments store their raw gateway payloads in
// donnees_callback; dump the ones to replay as JSON files and point this tool
// at the directory to re-drive confirmations that were missed while the API
// was down.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type replay struct {
	File     string
	Status   int
	Body     string
	Duration time.Duration
	Error    error
}

func main() {
	var (
		base    string
		dir     string
		timeout time.Duration
		dryRun  bool
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&dir, "dir", filepath.Join("scripts", "webhook_replay", "payloads"), "Directory of JSON callback payloads")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.BoolVar(&dryRun, "dry-run", false, "Validate payloads without posting them")
	flag.Parse()

	files, err := loadPayloadFiles(dir)
	if err != nil {
		log.Fatalf("failed to list payloads: %v", err)
	}

	client := &http.Client{Timeout: timeout}
	url := strings.TrimRight(base, "/") + "/api/v1/paiements/webhook/ligdicash"

	var (
		results []replay
		failed  int
	)
	for _, file := range files {
		res := replayFile(client, url, file, dryRun)
		if res.Error != nil || res.Status >= http.StatusBadRequest {
			failed++
		}
		results = append(results, res)
	}

	printReport(results, dryRun)

	fmt.Printf("Replayed: %d, Failed: %d\n", len(results), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func loadPayloadFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no JSON payloads in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

func replayFile(client *http.Client, url, file string, dryRun bool) replay {
	res := replay{File: file}

	data, err := os.ReadFile(file)
	if err != nil {
		res.Error = fmt.Errorf("read payload: %w", err)
		return res
	}
	if !json.Valid(data) {
		res.Error = fmt.Errorf("payload is not valid JSON")
		return res
	}
	if dryRun {
		return res
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		res.Error = err
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Error = fmt.Errorf("post callback: %w", err)
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		res.Error = fmt.Errorf("read response: %w", err)
		return res
	}
	res.Body = strings.TrimSpace(string(body))
	return res
}

func printReport(results []replay, dryRun bool) {
	fmt.Println("Webhook Replay Report")
	fmt.Println("=====================")
	for _, res := range results {
		status := "OK"
		switch {
		case res.Error != nil:
			status = "ERROR"
		case dryRun:
			status = "VALID"
		case res.Status >= http.StatusBadRequest:
			status = "REJECTED"
		}
		fmt.Printf("[%s] %s\n", status, res.File)
		if res.Error != nil {
			fmt.Printf("  Error: %v\n", res.Error)
			continue
		}
		if !dryRun {
			fmt.Printf("  Status: %d (%s)\n", res.Status, res.Duration)
			if res.Body != "" {
				fmt.Printf("  Response: %s\n", res.Body)
			}
		}
	}
}
