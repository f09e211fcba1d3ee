package coze

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// GenerateImage asks the image workflow for one picture and returns the URL
// found in the reply. The URL may also be a data: URI.
func (c *Client) GenerateImage(ctx context.Context, traceID, prompt, imageType string) (string, error) {
	res, err := c.Run(ctx, traceID, map[string]string{
		"prompt":     strings.TrimSpace(prompt),
		"image_type": imageType,
	})
	if err != nil {
		return "", err
	}
	u := ExtractImageURL(res.Data)
	if u == "" {
		return "", &Error{
			Endpoint:    c.name,
			Status:      res.Status,
			Message:     "reply carries no image url",
			BodySnippet: truncate(string(res.Data), snippetLimit),
		}
	}
	return u, nil
}

// ExtractVideoURL finds the produced video in a video workflow reply.
func ExtractVideoURL(data json.RawMessage) string {
	var v any
	if json.Unmarshal(data, &v) != nil {
		return ""
	}
	return videoURL(v)
}

func videoURL(v any) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"generated_video_url", "video_url", "extracted_video_url", "data", "url"} {
		if s, ok := obj[key].(string); ok && strings.HasPrefix(s, "http") {
			return s
		}
	}
	if nested, ok := obj["data"].(map[string]any); ok {
		return videoURL(nested)
	}
	return ""
}

// ExtractImageURL finds the produced image in an image workflow reply.
func ExtractImageURL(data json.RawMessage) string {
	var v any
	if json.Unmarshal(data, &v) != nil {
		return ""
	}
	return imageURL(v)
}

func isMediaURL(s string) bool {
	return strings.HasPrefix(s, "http") || strings.HasPrefix(s, "data:")
}

func imageURL(v any) string {
	switch t := v.(type) {
	case string:
		if isMediaURL(t) {
			return t
		}
	case []any:
		for _, item := range t {
			if u := imageURL(item); u != "" {
				return u
			}
		}
	case map[string]any:
		for _, key := range []string{"data", "url", "image", "image_url"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
		if nested, ok := t["data"]; ok {
			if u := imageURL(nested); u != "" {
				return u
			}
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if arr, ok := t[k].([]any); ok {
				for _, item := range arr {
					if s, ok := item.(string); ok && isMediaURL(s) {
						return s
					}
				}
			}
		}
		for _, k := range keys {
			if s, ok := t[k].(string); ok && isMediaURL(s) {
				return s
			}
		}
	}
	return ""
}
