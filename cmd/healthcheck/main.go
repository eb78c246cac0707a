// Package main is a tiny health probe for container images that ship
// without curl or wget. It exits 0 when the watcher's /health endpoint
// answers 200.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

const (
	defaultPort    = "3001"
	requestTimeout = 5 * time.Second
)

// buildAddress uses 127.0.0.1 rather than localhost; scratch images have
// no /etc/hosts to resolve it.
func buildAddress(port string) string {
	return "127.0.0.1:" + port
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	client := &http.Client{Timeout: requestTimeout}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", buildAddress(port)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	// os.Exit skips defers, close explicitly before deciding the verdict
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check returned non-OK status: %d\n", resp.StatusCode)
		os.Exit(1)
	}
}
