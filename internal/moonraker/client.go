// Package moonraker is the single async primitive surface onto a
// Moonraker-compatible 3D printer host: query object status, send a G-code
// script, and read a heater's configured max temperature. Every other
// component in the dryer control subsystem talks to hardware exclusively
// through this client.
package moonraker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// callTimeout bounds every Moonraker HTTP call.
const callTimeout = 10 * time.Second

// Client talks HTTP to a single Moonraker instance.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New constructs a Client. baseURL is loaded once at startup (e.g.
// "http://printer.local:7125"); apiKey may be empty.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: callTimeout},
	}
}

// Status is the decoded "result.status" subtree of a query response, keyed
// by object name.
type Status map[string]map[string]interface{}

type queryEnvelope struct {
	Result struct {
		Status Status `json:"status"`
	} `json:"result"`
}

// Query fetches the current status of the named printer objects in a single
// round trip.
func (c *Client) Query(ctx context.Context, objectNames ...string) (Status, error) {
	const op = "moonraker.Query"
	if len(objectNames) == 0 {
		return Status{}, nil
	}

	// printer/objects/query takes bare "name1&name2&..." pairs, not
	// "name1=&name2=" — build the raw query string by hand.
	rawQuery := strings.Join(objectNames, "&")
	reqURL := fmt.Sprintf("%s/printer/objects/query?%s", c.baseURL, rawQuery)

	var env queryEnvelope
	if err := c.doJSON(ctx, op, http.MethodGet, reqURL, nil, &env); err != nil {
		return nil, err
	}
	return env.Result.Status, nil
}

// MaxTemp returns the configured max_temp for a single heater, read from
// the "configfile" object.
func (c *Client) MaxTemp(ctx context.Context, heaterName string) (float64, error) {
	const op = "moonraker.MaxTemp"
	status, err := c.Query(ctx, "configfile")
	if err != nil {
		return 0, err
	}
	cfg, ok := status["configfile"]
	if !ok {
		return 0, NewError(op, KindConfigMissing, fmt.Errorf("configfile object missing from response"))
	}
	settings, ok := cfg["settings"].(map[string]interface{})
	if !ok {
		return 0, NewError(op, KindConfigMissing, fmt.Errorf("configfile.settings missing"))
	}
	heaterCfg, ok := settings[strings.ToLower(heaterName)].(map[string]interface{})
	if !ok {
		return 0, NewError(op, KindConfigMissing, fmt.Errorf("settings for heater %q missing", heaterName))
	}
	maxTemp, ok := heaterCfg["max_temp"].(float64)
	if !ok {
		return 0, NewError(op, KindConfigMissing, fmt.Errorf("max_temp for heater %q missing or not numeric", heaterName))
	}
	return maxTemp, nil
}

// GCode posts a single script and waits for the acknowledging response.
func (c *Client) GCode(ctx context.Context, script string) error {
	const op = "moonraker.GCode"
	body, err := json.Marshal(map[string]string{"script": script})
	if err != nil {
		return NewError(op, KindFatal, err)
	}
	reqURL := fmt.Sprintf("%s/printer/gcode/script", c.baseURL)
	return c.doJSON(ctx, op, http.MethodPost, reqURL, bytes.NewReader(body), nil)
}

type listEnvelope struct {
	Result struct {
		Objects []string `json:"objects"`
	} `json:"result"`
}

// ListObjects returns every object name Moonraker currently knows about.
// Diagnostic only; never on the tick hot path.
func (c *Client) ListObjects(ctx context.Context) ([]string, error) {
	const op = "moonraker.ListObjects"
	reqURL := fmt.Sprintf("%s/printer/objects/list", c.baseURL)
	var env listEnvelope
	if err := c.doJSON(ctx, op, http.MethodGet, reqURL, nil, &env); err != nil {
		return nil, err
	}
	return env.Result.Objects, nil
}

// doJSON performs one HTTP round trip, classifying failures into the
// taxonomy defined in errors.go, and decodes the JSON body into out (if
// out is non-nil).
func (c *Client) doJSON(ctx context.Context, op, method, reqURL string, body io.Reader, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return NewError(op, KindFatal, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return NewError(op, KindTimeout, err)
		}
		var netErr net.Error
		if asNetError(err, &netErr) && netErr.Timeout() {
			return NewError(op, KindTimeout, err)
		}
		return NewError(op, KindUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return NewError(op, KindUpstream, fmt.Errorf("status %d: %s", resp.StatusCode, string(payload)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(op, KindUpstream, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func asNetError(err error, target *net.Error) bool {
	if ne, ok := err.(net.Error); ok {
		*target = ne
		return true
	}
	return false
}
