package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// httpCmd drives the server's loopback admin endpoints: state is a GET,
// save and compact are POSTs.
func httpCmd(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	_ = fs.Parse(args)

	body, status, err := adminRequest(&http.Client{Timeout: *timeout}, *baseURL, name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	fmt.Println(strings.TrimSpace(string(body)))
	if status/100 != 2 {
		os.Exit(1)
	}
}

func adminRequest(cl *http.Client, baseURL, name string) ([]byte, int, error) {
	method := http.MethodPost
	if name == "state" {
		method = http.MethodGet
	}
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/" + name
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return b, resp.StatusCode, err
}
