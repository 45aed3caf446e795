package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	doAdmin(req, 5*time.Second)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/snapshot"
	req, _ := http.NewRequest(http.MethodPost, u, nil)
	doAdmin(req, 10*time.Second)
}

func unlockCmd(args []string) {
	fs := flag.NewFlagSet("unlock", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	typ := fs.String("type", "", "block type")
	tier := fs.Int("tier", 2, "target tier")
	lock := fs.Bool("lock", false, "remove the unlock instead")
	_ = fs.Parse(args)

	if strings.TrimSpace(*typ) == "" {
		fmt.Fprintln(os.Stderr, "missing -type")
		os.Exit(2)
	}
	q := url.Values{"type": {*typ}, "tier": {strconv.Itoa(*tier)}}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/unlock?" + q.Encode()
	method := http.MethodPost
	if *lock {
		method = http.MethodDelete
	}
	req, _ := http.NewRequest(method, u, nil)
	doAdmin(req, 5*time.Second)
}

func doAdmin(req *http.Request, timeout time.Duration) {
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
