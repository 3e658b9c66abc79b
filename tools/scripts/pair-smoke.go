// Package main provides a manual smoke test for a running pairgate server.
//
// It validates:
//   - POST /api/number creates a session
//   - the long-poll returns a pairing code
//   - the session reaches "completed" once the device links
//   - the session string is readable from /api/session-data
//
// With -fake-bridge it also serves a scripted Connection Library bridge so the
// whole flow runs locally. Point the server's PAIRGATE_BRIDGE_URL at it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "pairgate/shared/contracts/bridge/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

func main() {
	var (
		baseURL    = flag.String("url", "http://127.0.0.1:3000", "pairgate base URL")
		number     = flag.String("number", "15551234567", "Destination number")
		fakeBridge = flag.String("fake-bridge", "", "If set, serve a fake bridge on this addr (e.g. 127.0.0.1:7001)")
		linkAfter  = flag.Duration("link-after", 2*time.Second, "Fake bridge: delay between code issuance and link")
		timeout    = flag.Duration("timeout", 30*time.Second, "Overall timeout")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateHTTPURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *fakeBridge != "" {
		srv := startFakeBridge(*fakeBridge, *linkAfter, *verbose)
		defer func() { _ = srv.Close() }()
		fmt.Printf("fake bridge listening on ws://%s/bridge\n", *fakeBridge)
	}

	client := &http.Client{Timeout: *timeout}

	var created struct {
		Success     bool   `json:"success"`
		SessionID   string `json:"sessionId"`
		SessionName string `json:"sessionName"`
	}
	mustDo(ctx, client, http.MethodPost, *baseURL+"/api/number", fmt.Sprintf(`{"number":%q}`, *number), http.StatusOK, &created)
	if !created.Success || created.SessionID == "" {
		fatalf("create: unexpected response %+v", created)
	}
	fmt.Printf("OK   created session %s (%s)\n", created.SessionID, created.SessionName)

	var code struct {
		Code      string `json:"code"`
		Available bool   `json:"available"`
	}
	for !code.Available {
		mustDo(ctx, client, http.MethodGet, *baseURL+"/api/pairing-code/"+created.SessionID+"?timeout=10s", "", http.StatusOK, &code)
		if *verbose && !code.Available {
			fmt.Println("...  code not ready, polling again")
		}
	}
	fmt.Printf("OK   pairing code %s\n", code.Code)

	for {
		var st struct {
			Status    string `json:"status"`
			LastError string `json:"lastError"`
		}
		mustDo(ctx, client, http.MethodGet, *baseURL+"/api/session/"+created.SessionID, "", http.StatusOK, &st)
		if *verbose {
			fmt.Printf("...  status=%s\n", st.Status)
		}
		if st.Status == "completed" {
			break
		}
		if st.Status == "error" || st.Status == "timeout" {
			fatalf("session ended with status=%s: %s", st.Status, st.LastError)
		}
		select {
		case <-ctx.Done():
			fatalf("timed out waiting for link")
		case <-time.After(time.Second):
		}
	}
	fmt.Println("OK   session linked")

	var data struct {
		SessionString string `json:"sessionString"`
		Source        string `json:"source"`
	}
	mustDo(ctx, client, http.MethodGet, *baseURL+"/api/session-data/"+created.SessionID, "", http.StatusOK, &data)
	if data.SessionString == "" {
		fatalf("session-data: empty session string")
	}
	fmt.Printf("OK   session string (%d bytes, source=%s)\n", len(data.SessionString), data.Source)
	fmt.Println("PASS")
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustDo(ctx context.Context, client *http.Client, method, target, body string, wantStatus int, dst any) {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, target, err)
	}
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, target, resp.StatusCode, wantStatus, raw)
	}
	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			fatalf("%s %s: decode: %v", method, target, err)
		}
	}
}

// startFakeBridge serves a bridge that issues a code for every request and
// reports a registered open linkAfter later.
func startFakeBridge(addr string, linkAfter time.Duration, verbose bool) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/bridge", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{v1.Subprotocol}})
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
		conn.SetReadLimit(maxReadBytes)
		serveBridgeConn(r.Context(), conn, linkAfter, verbose)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalf("fake bridge: %v", err)
		}
	}()
	return srv
}

func serveBridgeConn(ctx context.Context, conn *websocket.Conn, linkAfter time.Duration, verbose bool) {
	var scope string
	for {
		readCtx, cancel := context.WithTimeout(ctx, linkAfter+time.Minute)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Validate() != nil {
			return
		}
		if verbose {
			fmt.Printf("bridge <- %s\n", env.Type)
		}

		switch env.Type {
		case v1.TypeOpen:
			var p v1.OpenPayload
			_ = env.DecodePayload(&p)
			scope = p.Scope
			send(ctx, conn, v1.TypeConnectionUpdate, "", v1.ConnectionUpdatePayload{Connection: v1.ConnectionConnecting})

		case v1.TypePairingCodeRequest:
			send(ctx, conn, v1.TypeResult, env.ID, v1.ResultPayload{OK: true, Code: "SMOK-E123"})
			go func() {
				select {
				case <-time.After(linkAfter):
				case <-ctx.Done():
					return
				}
				creds, _ := json.Marshal(map[string]any{
					"clientID":   "smoke-" + scope,
					"me":         map[string]string{"id": "15551234567:1@s.whatsapp.net", "name": "smoke"},
					"registered": true,
				})
				send(ctx, conn, v1.TypeConnectionUpdate, "", v1.ConnectionUpdatePayload{
					Connection: v1.ConnectionOpen,
					Registered: true,
					SelfID:     "15551234567:1@s.whatsapp.net",
					Creds:      creds,
				})
			}()

		case v1.TypeMessageSend:
			var p v1.MessageSendPayload
			_ = env.DecodePayload(&p)
			send(ctx, conn, v1.TypeResult, env.ID, v1.ResultPayload{OK: true, KeyID: fmt.Sprintf("smoke-%d", time.Now().UnixNano()), RemoteID: p.To})

		case v1.TypeClose:
			return
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, typ, id string, payload any) {
	env, err := v1.NewEnvelope(typ, id, time.Now(), payload)
	if err != nil {
		fatalf("fake bridge: envelope: %v", err)
	}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("fake bridge: marshal: %v", err)
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, b)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
