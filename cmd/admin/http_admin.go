package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// healthCmd checks a running server and prints its bonecraft_* metrics.
func healthCmd(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	base := strings.TrimRight(strings.TrimSpace(*baseURL), "/")
	cl := &http.Client{Timeout: 5 * time.Second}

	b, err := fetch(cl, base+"/healthz")
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSpace(string(b)))

	m, err := fetch(cl, base+"/metrics")
	if err != nil {
		return err
	}
	return printGameMetrics(os.Stdout, strings.NewReader(string(m)))
}

func fetch(cl *http.Client, u string) ([]byte, error) {
	resp, err := cl.Get(u)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return b, fmt.Errorf("%s: status %d", u, resp.StatusCode)
	}
	return b, nil
}

func printGameMetrics(w io.Writer, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "bonecraft_") && !strings.Contains(line, "_bucket{") {
			fmt.Fprintln(w, line)
		}
	}
	return sc.Err()
}
