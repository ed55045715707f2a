package ecovacs

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	portalRealm   = "ecouser.net"
	portalEdition = "ECOGLOBLE"

	authCodeOK = "0000"
)

var ErrNotAuthenticated = errors.New("ecovacs: not authenticated")

type session struct {
	userID   string
	token    string
	resource string
}

// PortalClient is the live implementation of Client against the Ecovacs
// global portal. One instance maps to one account session.
type PortalClient struct {
	email       string
	passwordMD5 string
	country     string
	continent   string
	clientID    string

	authURL   string
	portalURL string

	httpClient *http.Client

	mu      sync.Mutex
	session *session
	push    *pushClient
}

// NewPortalClient builds a client for the given account and region
// selector. No network traffic happens until Authenticate.
func NewPortalClient(email, password, country, continent string) *PortalClient {
	return &PortalClient{
		email:       email,
		passwordMD5: md5Hex([]byte(password)),
		country:     country,
		continent:   continent,
		clientID:    randomClientID(),
		authURL:     fmt.Sprintf("https://gl-%s-api.ecovacs.com", country),
		portalURL:   fmt.Sprintf("https://portal-%s.ecouser.net", continent),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *PortalClient) Authenticate(ctx context.Context) error {
	resp, err := c.doRequest(ctx, c.authURL+"/v1/global/auth/login", map[string]any{
		"account":   c.email,
		"password":  c.passwordMD5,
		"requestId": randomClientID(),
	})
	if err != nil {
		return err
	}
	code, _ := resp["code"].(string)
	if code != authCodeOK {
		return fmt.Errorf("ecovacs: auth failed (code %s): %v", code, resp["msg"])
	}
	data, _ := resp["data"].(map[string]any)
	if data == nil {
		return errors.New("ecovacs: auth response missing data")
	}
	uid, _ := data["uid"].(string)
	accessToken, _ := data["accessToken"].(string)
	if uid == "" || accessToken == "" {
		return errors.New("ecovacs: auth response missing uid or token")
	}

	// exchange the account token for a portal user token
	login, err := c.doRequest(ctx, c.portalURL+"/api/users/user.do", map[string]any{
		"todo":     "loginByItToken",
		"edition":  portalEdition,
		"userId":   uid,
		"token":    accessToken,
		"realm":    portalRealm,
		"resource": c.clientID,
	})
	if err != nil {
		return err
	}
	if result, _ := login["result"].(string); result != "ok" {
		return fmt.Errorf("ecovacs: portal login failed: %v", login["error"])
	}
	userID, _ := login["userId"].(string)
	token, _ := login["token"].(string)
	if userID == "" || token == "" {
		return errors.New("ecovacs: portal login response missing user token")
	}

	c.mu.Lock()
	c.session = &session{userID: userID, token: token, resource: c.clientID}
	c.mu.Unlock()
	return nil
}

func (c *PortalClient) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	sess, err := c.currentSession()
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(ctx, c.portalURL+"/api/appsvr/app.do", map[string]any{
		"todo":   "GetGlobalDeviceList",
		"userid": sess.userID,
		"auth":   c.portalAuth(sess),
	})
	if err != nil {
		return nil, err
	}
	if code := asInt(resp["code"]); code != 0 {
		return nil, fmt.Errorf("ecovacs: device listing failed (code %d): %v", code, resp["msg"])
	}
	rawDevices, _ := resp["devices"].([]any)
	devices := make([]DeviceInfo, 0, len(rawDevices))
	for _, raw := range rawDevices {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		info := DeviceInfo{
			ID:       asString(entry["did"]),
			Name:     asString(entry["nick"]),
			Class:    asString(entry["class"]),
			Resource: asString(entry["resource"]),
			Company:  asString(entry["company"]),
			Model:    asString(entry["deviceName"]),
		}
		if info.ID == "" {
			continue
		}
		if info.Name == "" {
			info.Name = info.Model
		}
		if info.Name == "" {
			info.Name = info.ID
		}
		devices = append(devices, info)
	}
	return devices, nil
}

func (c *PortalClient) OpenDevice(ctx context.Context, info DeviceInfo) (Device, error) {
	if _, err := c.currentSession(); err != nil {
		return nil, err
	}
	return &portalDevice{client: c, info: info}, nil
}

func (c *PortalClient) Close() error {
	c.mu.Lock()
	push := c.push
	c.push = nil
	c.session = nil
	c.mu.Unlock()
	if push != nil {
		push.disconnect()
	}
	return nil
}

// sendCommand forwards one command to a device over the IoT control
// channel. The portal answers synchronously with ok/fail.
func (c *PortalClient) sendCommand(ctx context.Context, info DeviceInfo, cmd Command) error {
	sess, err := c.currentSession()
	if err != nil {
		return err
	}
	body := map[string]any{}
	if cmd.Payload != nil {
		body["data"] = cmd.Payload
	}
	resp, err := c.doRequest(ctx, c.portalURL+"/api/iot/devmanager.do", map[string]any{
		"cmdName": cmd.Name,
		"payload": map[string]any{
			"header": map[string]any{
				"pri": 1,
				"ts":  time.Now().UnixMilli(),
				"ver": "0.0.50",
			},
			"body": body,
		},
		"payloadType": "j",
		"td":          "q",
		"toId":        info.ID,
		"toRes":       info.Resource,
		"toType":      info.Class,
		"auth":        c.portalAuth(sess),
	})
	if err != nil {
		return err
	}
	if ret, _ := resp["ret"].(string); ret != "ok" {
		return fmt.Errorf("ecovacs: command %s rejected (errno %d): %v", cmd.Name, asInt(resp["errno"]), resp["debug"])
	}
	return nil
}

// pushTransport lazily connects the shared MQTT report channel.
func (c *PortalClient) pushTransport() (*pushClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNotAuthenticated
	}
	if c.push != nil {
		return c.push, nil
	}
	push, err := newPushClient(pushConfig{
		continent: c.continent,
		userID:    c.session.userID,
		token:     c.session.token,
		resource:  c.session.resource,
	})
	if err != nil {
		return nil, err
	}
	c.push = push
	return push, nil
}

func (c *PortalClient) currentSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNotAuthenticated
	}
	return c.session, nil
}

func (c *PortalClient) portalAuth(sess *session) map[string]any {
	return map[string]any{
		"with":     "users",
		"userid":   sess.userID,
		"realm":    portalRealm,
		"token":    sess.token,
		"resource": sess.resource,
	}
}

func (c *PortalClient) doRequest(ctx context.Context, rawURL string, payload map[string]any) (map[string]any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ecovacs: portal returned status %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func randomClientID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		var n int
		_, _ = fmt.Sscanf(t, "%d", &n)
		return n
	default:
		return 0
	}
}
