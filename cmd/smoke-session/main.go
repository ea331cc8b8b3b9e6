package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) do(ctx context.Context, method, path, token string, body any) (int, map[string]any, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
			return resp.StatusCode, nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, out, nil
}

func expect(step string, got, want int, body map[string]any) {
	if got != want {
		log.Fatalf("%s: status %d, want %d (body %v)", step, got, want, body)
	}
}

func main() {
	base := pflag.String("base-url", "http://localhost:8080", "sesame API base URL")
	timeout := pflag.Duration("timeout", 10*time.Second, "overall deadline")
	pflag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := &client{base: strings.TrimRight(*base, "/"), http: &http.Client{Timeout: 5 * time.Second}}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	username := "smoke" + suffix
	password := "smoke-" + suffix

	status, body, err := c.do(ctx, http.MethodPost, "/v1/users", "", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	})
	if err != nil {
		log.Fatalf("register: %v", err)
	}
	expect("register", status, http.StatusCreated, body)

	status, body, err = c.do(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"handle":   username,
		"password": password,
	})
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	expect("login", status, http.StatusOK, body)
	token, _ := body["token"].(string)
	if token == "" {
		log.Fatalf("login: no token in response %v", body)
	}

	status, body, err = c.do(ctx, http.MethodGet, "/v1/auth/session", token, nil)
	if err != nil {
		log.Fatalf("session: %v", err)
	}
	expect("session", status, http.StatusOK, body)
	if user, _ := body["user"].(map[string]any); user["username"] != username {
		log.Fatalf("session: unexpected user %v", body["user"])
	}

	status, body, err = c.do(ctx, http.MethodPost, "/v1/auth/logout", token, nil)
	if err != nil {
		log.Fatalf("logout: %v", err)
	}
	expect("logout", status, http.StatusOK, body)

	status, body, err = c.do(ctx, http.MethodGet, "/v1/auth/session", token, nil)
	if err != nil {
		log.Fatalf("session after logout: %v", err)
	}
	expect("session after logout", status, http.StatusUnauthorized, body)

	fmt.Printf("sesame smoke test passed: user=%s\n", username)
}
