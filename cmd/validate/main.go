// Command validate checks an x402 discovery document against the protocol's
// directory-listing rules. It reads the document from a URL argument, a
// local file, or stdin, prints every error and warning it finds, and exits
// 0 only when the document is valid.
//
// Usage:
//
//	validate https://example.com/.well-known/x402
//	validate --file discovery.json
//	cat discovery.json | validate --stdin
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/x402-engine/x402/extensions/bazaar"
)

func main() {
	var (
		filePath  = flag.String("file", "", "read the discovery document from a local file")
		fromStdin = flag.Bool("stdin", false, "read the discovery document from stdin")
	)
	flag.Usage = usage
	flag.Parse()

	data, source, err := readDocument(*filePath, *fromStdin, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		os.Exit(2)
	}

	result := bazaar.ValidateDiscoveryDocumentBytes(data)

	for _, warning := range result.Warnings {
		fmt.Printf("warning: %s\n", warning)
	}
	for _, errMsg := range result.Errors {
		fmt.Printf("error: %s\n", errMsg)
	}

	if !result.Valid {
		fmt.Printf("%s: invalid (%d error(s), %d warning(s))\n", source, len(result.Errors), len(result.Warnings))
		os.Exit(1)
	}
	fmt.Printf("%s: valid (%d warning(s))\n", source, len(result.Warnings))
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: validate <url> | validate --file <path> | validate --stdin")
	flag.PrintDefaults()
}

// readDocument resolves exactly one input source. Passing more than one
// (or none) is a usage error, not a validation failure.
func readDocument(filePath string, fromStdin bool, args []string) ([]byte, string, error) {
	sources := 0
	if filePath != "" {
		sources++
	}
	if fromStdin {
		sources++
	}
	if len(args) > 0 {
		sources++
	}
	if sources != 1 || len(args) > 1 {
		usage()
		os.Exit(2)
	}

	switch {
	case filePath != "":
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", filePath, err)
		}
		return data, filePath, nil
	case fromStdin:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", fmt.Errorf("read stdin: %w", err)
		}
		return data, "stdin", nil
	default:
		return fetchDocument(args[0])
	}
}

func fetchDocument(url string) ([]byte, string, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read response from %s: %w", url, err)
	}
	return data, url, nil
}
