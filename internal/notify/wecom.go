package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pt-watch/internal/httpclient"

	"github.com/tidwall/gjson"
)

const wecomAPIBase = "https://qyapi.weixin.qq.com"

// WeComNotifier sends text messages through a WeCom app. The access token is
// cached until shortly before its expiry.
type WeComNotifier struct {
	CorpID     string
	CorpSecret string
	AgentID    string
	ToUser     string
	ToParty    string
	ToTag      string
	// BaseURL is overridable for tests.
	BaseURL string

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

func (n *WeComNotifier) base() string {
	if n.BaseURL != "" {
		return strings.TrimRight(n.BaseURL, "/")
	}
	return wecomAPIBase
}

// getToken returns a cached token or fetches a fresh one. Tokens are renewed
// 30 seconds before they expire.
func (n *WeComNotifier) getToken(ctx context.Context, client *http.Client) (string, error) {
	n.mu.Lock()
	if n.token != "" && time.Now().Add(30*time.Second).Before(n.tokenExpires) {
		token := n.token
		n.mu.Unlock()
		return token, nil
	}
	n.mu.Unlock()

	endpoint := n.base() + "/cgi-bin/gettoken?" + url.Values{
		"corpid":     {n.CorpID},
		"corpsecret": {n.CorpSecret},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wecom gettoken request failed: %w", err)
	}
	body, err := httpclient.ReadBody(resp, 1<<20)
	if err != nil {
		return "", fmt.Errorf("wecom gettoken read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wecom gettoken returned HTTP %d", resp.StatusCode)
	}

	parsed := gjson.ParseBytes(body)
	if code := parsed.Get("errcode").Int(); code != 0 {
		return "", fmt.Errorf("wecom gettoken errcode %d: %s", code, parsed.Get("errmsg").String())
	}
	token := parsed.Get("access_token").String()
	if token == "" {
		return "", fmt.Errorf("wecom gettoken response carries no access_token")
	}
	expiresIn := parsed.Get("expires_in").Int()
	if expiresIn <= 0 {
		expiresIn = 7200
	}

	n.mu.Lock()
	n.token = token
	n.tokenExpires = time.Now().Add(time.Duration(expiresIn) * time.Second)
	n.mu.Unlock()
	return token, nil
}

// Send delivers one msgtype=text message.
func (n *WeComNotifier) Send(ctx context.Context, client *http.Client, text string) error {
	if n.CorpID == "" || n.CorpSecret == "" || n.AgentID == "" {
		return fmt.Errorf("wecom is not configured")
	}

	token, err := n.getToken(ctx, client)
	if err != nil {
		return err
	}

	toUser := n.ToUser
	if toUser == "" {
		toUser = "@all"
	}
	payload, err := json.Marshal(map[string]any{
		"touser":  toUser,
		"toparty": n.ToParty,
		"totag":   n.ToTag,
		"msgtype": "text",
		"agentid": n.AgentID,
		"text":    map[string]string{"content": text},
		"safe":    0,
	})
	if err != nil {
		return err
	}

	endpoint := n.base() + "/cgi-bin/message/send?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("wecom send request failed: %w", err)
	}
	body, err := httpclient.ReadBody(resp, 1<<20)
	if err != nil {
		return fmt.Errorf("wecom send read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wecom send returned HTTP %d", resp.StatusCode)
	}
	if code := gjson.GetBytes(body, "errcode").Int(); code != 0 {
		return fmt.Errorf("wecom send errcode %d: %s", code, gjson.GetBytes(body, "errmsg").String())
	}
	return nil
}
