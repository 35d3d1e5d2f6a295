// File: internal/validator/validator.go
//
// Package validator is the pure gate every server-issued task passes before anything
// visible happens in the browser. It never performs I/O.
package validator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/herald/api/schemas"
)

// MaxTextLength is the maximum number of characters allowed in content text.
const MaxTextLength = 5000

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// denylist catches markup that must never be typed into a page.
var denylist = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"script tag", regexp.MustCompile(`(?i)<\s*/?\s*script`)},
	{"javascript: URI", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"inline event handler", regexp.MustCompile(`(?i)\bon(?:abort|afterprint|animationend|animationstart|beforeprint|beforeunload|blur|canplay|change|click|contextmenu|copy|cut|dblclick|drag|dragend|dragenter|dragleave|dragover|dragstart|drop|error|focus|focusin|focusout|hashchange|input|invalid|keydown|keypress|keyup|load|message|mousedown|mouseenter|mouseleave|mousemove|mouseout|mouseover|mouseup|paste|pointerdown|pointerenter|pointerover|pointerup|popstate|reset|resize|scroll|select|submit|toggle|touchstart|transitionend|unload|wheel)\s*=`)},
	{"inline event handler", regexp.MustCompile(`(?i)<[^>]*\son[a-z]+\s*=`)},
}

// Validate decodes raw JSON and runs the task gate over it.
func Validate(raw []byte) (schemas.ValidationResult, *schemas.Task) {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return schemas.Reject("payload is not valid JSON: %v", err), nil
	}
	record, ok := decoded.(map[string]interface{})
	if !ok {
		return schemas.Reject("payload is not an object"), nil
	}
	return ValidateRecord(record)
}

// ValidateRecord checks an already-decoded task record. On acceptance it returns the
// normalized Task; on rejection the Task is nil.
func ValidateRecord(record map[string]interface{}) (schemas.ValidationResult, *schemas.Task) {
	if record == nil {
		return schemas.Reject("payload is not an object"), nil
	}

	rawID, present := record["id"]
	if !present {
		return schemas.Reject("task id is missing"), nil
	}
	id, ok := rawID.(string)
	if !ok {
		return schemas.Reject("task id must be a string"), nil
	}
	if strings.TrimSpace(id) == "" {
		return schemas.Reject("task id is empty"), nil
	}

	platformName, _ := record["platform"].(string)
	platform, err := schemas.ParsePlatform(platformName)
	if err != nil {
		return schemas.Reject("unsupported platform %q", describe(record["platform"])), nil
	}

	typeName, _ := firstString(record, "task_type", "taskType")
	taskType, err := schemas.ParseTaskType(typeName)
	if err != nil {
		return schemas.Reject("unsupported task type %q", describe(firstValue(record, "task_type", "taskType"))), nil
	}

	content, reason := extractContent(record)
	if reason != "" {
		return schemas.Reject("%s", reason), nil
	}

	if n := utf8.RuneCountInString(content.Text); n > MaxTextLength {
		return schemas.Reject("content text is %d characters, limit is %d", n, MaxTextLength), nil
	}
	for _, rule := range denylist {
		if rule.pattern.MatchString(content.Text) {
			return schemas.Reject("content text contains a forbidden %s", rule.name), nil
		}
	}

	targetURL, _ := firstString(record, "target_url", "targetUrl")

	return schemas.Accept(), &schemas.Task{
		ID:        id,
		Platform:  platform,
		Type:      taskType,
		TargetURL: strings.TrimSpace(targetURL),
		Content:   content,
	}
}

// extractContent accepts content either as a plain string with top-level media URLs or
// as an object carrying both.
func extractContent(record map[string]interface{}) (schemas.Content, string) {
	var c schemas.Content
	switch v := record["content"].(type) {
	case nil:
	case string:
		c.Text = v
	case map[string]interface{}:
		if text, present := v["text"]; present && text != nil {
			s, ok := text.(string)
			if !ok {
				return c, "content text must be a string"
			}
			c.Text = s
		}
		c.MediaURLs = stringList(firstValue(v, "media_urls", "mediaUrls"))
	default:
		return c, "content must be a string or an object"
	}
	if len(c.MediaURLs) == 0 {
		c.MediaURLs = stringList(firstValue(record, "media_urls", "mediaUrls"))
	}
	return c, ""
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func firstValue(record map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := record[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(record map[string]interface{}, keys ...string) (string, bool) {
	s, ok := firstValue(record, keys...).(string)
	return s, ok
}

func describe(v interface{}) string {
	if v == nil {
		return "<missing>"
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
