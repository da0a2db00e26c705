// Package testinfra runs end-to-end tests against a running chat-bridge,
// the IRC server it is connected to and, optionally, its Discord channel.
//
// The IRC side needs IRC_ADDR and IRC_CHANNEL. The Discord side is tested
// when DISCORD_TEST_TOKEN (a second bot that can read and post in the
// bridged channel) and DISCORD_CHANNEL_ID are set as well.
//
// Run:  IRC_ADDR=localhost:6667 IRC_CHANNEL='#bridge' go test ./...
package testinfra

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// ────────────────────────────────────────────────────────────────────
// Constants & shared state
// ────────────────────────────────────────────────────────────────────

const discordAPI = "https://discord.com/api/v10"

var (
	bridgeAdminURL string
	ircAddr        string
	ircChannel     string

	discordToken     string // second bot, posts as a regular Discord author
	discordChannelID string
)

func TestMain(m *testing.M) {
	bridgeAdminURL = envOr("BRIDGE_ADMIN_URL", "http://127.0.0.1:29330")
	ircAddr = os.Getenv("IRC_ADDR")
	ircChannel = os.Getenv("IRC_CHANNEL")
	discordToken = os.Getenv("DISCORD_TEST_TOKEN")
	discordChannelID = os.Getenv("DISCORD_CHANNEL_ID")

	if ircAddr == "" || ircChannel == "" {
		fmt.Println("SKIP: IRC_ADDR and IRC_CHANNEL required")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func uniqueText(prefix string) string {
	return prefix + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

// ────────────────────────────────────────────────────────────────────
// HTTP helpers
// ────────────────────────────────────────────────────────────────────

func doRequest(t testing.TB, method, url string, body any, header http.Header) (int, []byte) {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTP %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func doJSON(t testing.TB, method, url string) (int, map[string]any) {
	t.Helper()
	code, data := doRequest(t, method, url, nil, nil)
	var result map[string]any
	json.Unmarshal(data, &result) //nolint:errcheck
	return code, result
}

// metricValue returns the value of the first sample whose series line
// starts with series, or 0 when it is not exported yet.
func metricValue(t *testing.T, series string) float64 {
	t.Helper()
	code, data := doRequest(t, "GET", bridgeAdminURL+"/metrics", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("GET /metrics: %d", code)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, series+" ") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimPrefix(line, series+" "), 64)
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		return v
	}
	return 0
}

// ────────────────────────────────────────────────────────────────────
// IRC helpers
// ────────────────────────────────────────────────────────────────────

type ircConn struct {
	conn   net.Conn
	reader *bufio.Reader
	nick   string
}

// joinIRC registers a fresh nick and joins the bridged channel.
func joinIRC(t *testing.T, prefix string) *ircConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", ircAddr, 10*time.Second)
	if err != nil {
		t.Fatalf("dial IRC: %v", err)
	}
	c := &ircConn{conn: conn, reader: bufio.NewReader(conn), nick: prefix + strconv.Itoa(int(time.Now().UnixNano()%100000))}
	t.Cleanup(func() {
		c.send("QUIT :done")
		_ = conn.Close()
	})
	c.send("NICK " + c.nick)
	c.send("USER " + c.nick + " 0 * :" + c.nick)
	c.waitFor(t, 30*time.Second, func(cmd string, params []string) bool { return cmd == "001" })
	c.send("JOIN " + ircChannel)
	c.waitFor(t, 30*time.Second, func(cmd string, params []string) bool { return cmd == "366" })
	return c
}

func (c *ircConn) send(line string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, _ = c.conn.Write([]byte(line + "\r\n"))
}

func (c *ircConn) say(text string) {
	c.send("PRIVMSG " + ircChannel + " :" + text)
}

// waitFor reads lines until match returns true, answering PINGs on the way.
func (c *ircConn) waitFor(t *testing.T, timeout time.Duration, match func(cmd string, params []string) bool) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("set deadline: %v", err)
		}
		line, err := c.reader.ReadString('\n')
		if err != nil {
			t.Fatalf("IRC read: %v", err)
		}
		cmd, params := parseLine(strings.TrimRight(line, "\r\n"))
		if cmd == "PING" {
			c.send("PONG :" + strings.Join(params, " "))
			continue
		}
		if match(cmd, params) {
			return params
		}
	}
}

func parseLine(line string) (string, []string) {
	if strings.HasPrefix(line, "@") {
		_, line, _ = strings.Cut(line, " ")
	}
	if strings.HasPrefix(line, ":") {
		_, line, _ = strings.Cut(line, " ")
	}
	head, trailing, hasTrailing := strings.Cut(line, " :")
	fields := strings.Fields(head)
	if len(fields) == 0 {
		return "", nil
	}
	params := fields[1:]
	if hasTrailing {
		params = append(params, trailing)
	}
	return strings.ToUpper(fields[0]), params
}

// ────────────────────────────────────────────────────────────────────
// Discord helpers
// ────────────────────────────────────────────────────────────────────

func requireDiscord(t *testing.T) {
	t.Helper()
	if discordToken == "" || discordChannelID == "" {
		t.Skip("DISCORD_TEST_TOKEN and DISCORD_CHANNEL_ID required")
	}
}

func discordHeader() http.Header {
	return http.Header{"Authorization": {"Bot " + discordToken}}
}

func postToDiscord(t *testing.T, content string) string {
	t.Helper()
	code, data := doRequest(t, "POST", discordAPI+"/channels/"+discordChannelID+"/messages",
		map[string]any{"content": content}, discordHeader())
	if code != http.StatusOK {
		t.Fatalf("post to Discord: %d %s", code, data)
	}
	var msg struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode Discord message: %v", err)
	}
	return msg.ID
}

func pollDiscordForMessage(t *testing.T, match func(content string) bool, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		code, data := doRequest(t, "GET", discordAPI+"/channels/"+discordChannelID+"/messages?limit=20", nil, discordHeader())
		if code == http.StatusOK {
			var msgs []struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal(data, &msgs); err == nil {
				for _, m := range msgs {
					if match(m.Content) {
						return m.Content
					}
				}
			}
		}
		time.Sleep(time.Second)
	}
	t.Fatal("timed out waiting for the message on Discord")
	return ""
}

// ────────────────────────────────────────────────────────────────────
// Admin API
// ────────────────────────────────────────────────────────────────────

func TestBridgeAdminAPIHealthy(t *testing.T) {
	code, resp := doJSON(t, "GET", bridgeAdminURL+"/healthz")
	if code != http.StatusOK {
		t.Fatalf("healthz: %d %v", code, resp)
	}
	if resp["status"] != "ok" {
		t.Errorf("status: got %v, want ok", resp["status"])
	}
	if resp["irc"] != true {
		t.Errorf("bridge is not connected to IRC: %v", resp)
	}
	if discordToken != "" && resp["discord"] != true {
		t.Errorf("bridge is not connected to Discord: %v", resp)
	}
}

func TestAdminAPIReloadMethodNotAllowed(t *testing.T) {
	code, resp := doJSON(t, "GET", bridgeAdminURL+"/api/reload")
	if code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/reload: got %d, want 405", code)
	}
	if resp["error"] == nil {
		t.Errorf("405 body should be JSON with an error: %v", resp)
	}
}

func TestAdminAPIUnknownPath(t *testing.T) {
	code, resp := doJSON(t, "GET", bridgeAdminURL+"/does-not-exist")
	if code != http.StatusNotFound || resp["error"] == nil {
		t.Errorf("got %d %v, want a JSON 404", code, resp)
	}
}

func TestAdminAPIReload(t *testing.T) {
	code, resp := doJSON(t, "POST", bridgeAdminURL+"/api/reload")
	switch code {
	case http.StatusOK:
		if resp["status"] != "reloaded" {
			t.Errorf("status: got %v, want reloaded", resp["status"])
		}
	case http.StatusTooManyRequests:
		t.Log("reload rate limited by an earlier run")
	default:
		t.Errorf("POST /api/reload: %d %v", code, resp)
	}
}

// ────────────────────────────────────────────────────────────────────
// Bridging
// ────────────────────────────────────────────────────────────────────

func TestIRCMessageIsDispatched(t *testing.T) {
	const series = `chat_bridge_events_dispatched_total{type="irc_message"}`
	before := metricValue(t, series)
	irc := joinIRC(t, "tester")
	irc.say(uniqueText("counted"))

	deadline := time.Now().Add(15 * time.Second)
	for metricValue(t, series) <= before {
		if time.Now().After(deadline) {
			t.Fatalf("%s did not grow past %v", series, before)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func TestIRCToDiscord(t *testing.T) {
	requireDiscord(t)
	irc := joinIRC(t, "tester")
	text := uniqueText("from-irc")
	irc.say(text)

	got := pollDiscordForMessage(t, func(content string) bool {
		return strings.Contains(content, text)
	}, 30*time.Second)
	if !strings.HasPrefix(got, "**<"+irc.nick+">** ") {
		t.Errorf("Discord message: got %q, want the bold nick header", got)
	}
}

func TestIRCActionToDiscord(t *testing.T) {
	requireDiscord(t)
	irc := joinIRC(t, "tester")
	text := uniqueText("waves")
	irc.say("\x01ACTION " + text + "\x01")

	got := pollDiscordForMessage(t, func(content string) bool {
		return strings.Contains(content, text)
	}, 30*time.Second)
	if !strings.HasPrefix(got, "＊ **"+irc.nick+"** ") {
		t.Errorf("Discord action: got %q, want the action header", got)
	}
}

func TestDiscordToIRC(t *testing.T) {
	requireDiscord(t)
	irc := joinIRC(t, "listener")
	text := uniqueText("from-discord")
	postToDiscord(t, text)

	params := irc.waitFor(t, 30*time.Second, func(cmd string, params []string) bool {
		return cmd == "PRIVMSG" && len(params) == 2 && strings.Contains(params[1], text)
	})
	if !strings.EqualFold(params[0], ircChannel) {
		t.Errorf("relayed to %q, want %q", params[0], ircChannel)
	}
}

func TestBidirectionalRapidFire(t *testing.T) {
	requireDiscord(t)
	irc := joinIRC(t, "rapid")
	var texts []string
	for i := range 5 {
		text := uniqueText("rapid" + strconv.Itoa(i))
		texts = append(texts, text)
		irc.say(text)
	}
	for _, text := range texts {
		pollDiscordForMessage(t, func(content string) bool {
			return strings.Contains(content, text)
		}, 60*time.Second)
	}
}
