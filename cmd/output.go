package main

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// Print helper functions for consistent output formatting.
func printHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "\033[1m\033[0;36m========================================\033[0m\n")
	fmt.Fprintf(w, "\033[1m\033[0;36m       %s\033[0m\n", title)
	fmt.Fprintf(w, "\033[1m\033[0;36m========================================\033[0m\n")
	fmt.Fprintln(w)
}

func printSuccess(w io.Writer, msg string) {
	fmt.Fprintf(w, "\033[0;32m[OK]\033[0m %s\n", msg)
}

func printInfo(w io.Writer, msg string) {
	fmt.Fprintf(w, "\033[0;34m[INFO]\033[0m %s\n", msg)
}

func printStep(w io.Writer, msg string) {
	fmt.Fprintf(w, "\033[0;36m>>>\033[0m %s\n", msg)
}

// checkGatewayRunning checks if a gateway answers on the port.
func checkGatewayRunning(port int) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	// #nosec G107 -- localhost-only health check, port from internal config
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/viewer/health", port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// waitForGateway polls the health endpoint until it responds or timeout elapses.
func waitForGateway(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if checkGatewayRunning(port) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
