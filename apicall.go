package stageflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// handleAPICall executes an api-call stage: the request body is built by
// dot-path picks from the user record, the URI is interpolated against
// the context and process-level vars, and declared response fields are
// extracted back into the user record before advancing. Any transport
// error or configured error status renders the apology and halts the
// turn; there is no retry.
func (c *Controller) handleAPICall(ctx context.Context, sm *StateManager) error {
	uri := sm.URI()
	nextURI := sm.NextURI()

	if c.isStageComplete(sm) {
		c.logger.Debug("stage %s already complete, forwarding to %s", uri, nextURI)
		return c.dispatch(ctx, nextURI, nil)
	}

	req := sm.Stage().Request
	if req == nil {
		err := fmt.Errorf("api-call stage %s has no request", uri)
		c.logger.Error("%v", err)
		return err
	}

	body := make(map[string]any, len(req.Data))
	for field, path := range req.Data {
		if v, ok := sm.User().Pick(path); ok {
			body[field] = v
		}
	}

	callURI := InjectVariables(req.URI, sm.Context().AsMap(), c.cfg.varsMap())

	payload, err := json.Marshal(body)
	if err != nil {
		c.logger.Error("encoding request body for %s failed: %v", uri, err)
		return err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, callURI, bytes.NewReader(payload))
	if err != nil {
		c.logger.Error("building %s request for %s failed: %v", method, uri, err)
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("sending %s call to %s for stage %s", method, callURI, uri)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.apiFailure(uri, fmt.Errorf("%w: %v", ErrExternalAPI, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.apiFailure(uri, fmt.Errorf("%w: reading response: %v", ErrExternalAPI, err))
	}

	var respBody map[string]any
	if len(raw) > 0 {
		// Non-JSON bodies are tolerated; extraction just finds nothing.
		_ = json.Unmarshal(raw, &respBody)
	}

	if status, failed := c.apiErrorStatus(resp.StatusCode, respBody); failed {
		return c.apiFailure(uri, fmt.Errorf("%w: status %d", ErrExternalAPI, status))
	}

	if rs := sm.Stage().Response; rs != nil && len(rs.ExtractData) > 0 {
		update := make(map[string]any, len(rs.ExtractData))
		for _, rule := range rs.ExtractData {
			update[rule.Destination] = respBody[rule.Source]
		}
		if _, err := c.users.Update(ctx, c.userID, update); err != nil {
			c.logger.Error("extracting response data for %s failed: %v", uri, err)
			return err
		}
	}

	return c.dispatch(ctx, nextURI, nil)
}

// apiFailure is the fail-closed path: log, apologize to the user, and
// stop without routing further.
func (c *Controller) apiFailure(uri string, err error) error {
	c.logger.Error("api call for %s failed: %v", uri, err)
	c.messenger.Reply(Message{Text: c.cfg.APIFailureText}, uri)
	return nil
}

// apiErrorStatus checks the HTTP status code and the response body's
// "status" field against the configured error statuses.
func (c *Controller) apiErrorStatus(httpStatus int, body map[string]any) (int, bool) {
	bodyStatus := 0
	switch v := body["status"].(type) {
	case float64:
		bodyStatus = int(v)
	case int:
		bodyStatus = v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			bodyStatus = n
		}
	}

	for _, status := range c.cfg.APIErrorStatuses {
		if httpStatus == status || bodyStatus == status {
			return status, true
		}
	}
	return 0, false
}
