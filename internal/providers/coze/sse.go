package coze

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var errEmptyStream = errors.New("SSE parse failed")

type streamItem struct {
	Type    string `json:"type"`
	Content struct {
		Answer json.RawMessage `json:"answer"`
		Error  json.RawMessage `json:"error"`
	} `json:"content"`
}

// parseEventStream folds a text/event-stream reply into one JSON value.
// Answer chunks are concatenated; an error event becomes errMsg.
func parseEventStream(body []byte) (data json.RawMessage, errMsg string, err error) {
	var items []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" || !json.Valid([]byte(payload)) {
			continue
		}
		items = append(items, json.RawMessage(payload))
	}
	if err := scanner.Err(); err != nil {
		return nil, "", err
	}
	if len(items) == 0 {
		return nil, "", errEmptyStream
	}

	var answer strings.Builder
	answers := 0
	for _, raw := range items {
		var item streamItem
		if json.Unmarshal(raw, &item) != nil {
			continue
		}
		hasErr := len(item.Content.Error) > 0 && string(item.Content.Error) != "null"
		if item.Type == "error" || hasErr {
			if hasErr {
				return nil, describe(item.Content.Error), nil
			}
			return nil, describe(raw), nil
		}
		if item.Type != "answer" {
			continue
		}
		var chunk string
		if json.Unmarshal(item.Content.Answer, &chunk) == nil {
			answer.WriteString(chunk)
			answers++
		}
	}

	if answers == 0 {
		return items[len(items)-1], "", nil
	}
	return jsonOrString(answer.String()), "", nil
}

// jsonOrString returns text as JSON when it parses, otherwise as a JSON string.
func jsonOrString(text string) json.RawMessage {
	trimmed := strings.TrimSpace(text)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	encoded, _ := json.Marshal(text)
	return encoded
}

func describe(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Msg != "" {
			return obj.Msg
		}
	}
	return string(raw)
}
