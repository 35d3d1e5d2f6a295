package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/herald/api/schemas"
)

func validRecord() map[string]interface{} {
	return map[string]interface{}{
		"id":        "t1",
		"platform":  "instagram",
		"task_type": "post",
		"content": map[string]interface{}{
			"text":       "Hello world",
			"media_urls": []interface{}{},
		},
	}
}

func TestValidateRecord_Accepts(t *testing.T) {
	res, task := ValidateRecord(validRecord())
	require.True(t, res.Valid, res.Reason)
	require.NotNil(t, task)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, schemas.PlatformInstagram, task.Platform)
	assert.Equal(t, schemas.TaskPost, task.Type)
	assert.Equal(t, "Hello world", task.Content.Text)
	assert.Empty(t, task.Content.MediaURLs)
}

func TestValidateRecord_Rejections(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(r map[string]interface{})
		reason string
	}{
		{"missing id", func(r map[string]interface{}) { delete(r, "id") }, "task id is missing"},
		{"numeric id", func(r map[string]interface{}) { r["id"] = 42.0 }, "task id must be a string"},
		{"empty id", func(r map[string]interface{}) { r["id"] = "  " }, "task id is empty"},
		{"unknown platform", func(r map[string]interface{}) { r["platform"] = "linkedin" }, `"linkedin"`},
		{"missing platform", func(r map[string]interface{}) { delete(r, "platform") }, "unsupported platform"},
		{"unknown task type", func(r map[string]interface{}) { r["task_type"] = "delete" }, `"delete"`},
		{"content wrong type", func(r map[string]interface{}) { r["content"] = 12.0 }, "content must be a string or an object"},
		{"script tag", func(r map[string]interface{}) {
			r["content"] = "nice <script>alert(1)</script>"
		}, "script tag"},
		{"script tag with spacing", func(r map[string]interface{}) {
			r["content"] = "< SCRIPT src=x>"
		}, "script tag"},
		{"javascript uri", func(r map[string]interface{}) {
			r["content"] = "click JavaScript:alert(1)"
		}, "javascript: URI"},
		{"event handler", func(r map[string]interface{}) {
			r["content"] = `<img src=x onerror="alert(1)">`
		}, "inline event handler"},
		{"bare event handler", func(r map[string]interface{}) {
			r["content"] = `onclick = steal()`
		}, "inline event handler"},
		{"too long", func(r map[string]interface{}) {
			r["content"] = strings.Repeat("a", MaxTextLength+1)
		}, "limit is 5000"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r := validRecord()
			tc.mutate(r)
			res, task := ValidateRecord(r)
			assert.False(t, res.Valid)
			assert.Nil(t, task)
			assert.Contains(t, res.Reason, tc.reason)
		})
	}
}

func TestValidateRecord_PlatformReasonNamesPlatformForAllUnknown(t *testing.T) {
	for _, p := range []string{"tiktok", "LinkedIn", "face book", "x"} {
		r := validRecord()
		r["platform"] = p
		res, _ := ValidateRecord(r)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Reason, p)
	}
}

func TestValidateRecord_CaseInsensitiveEnums(t *testing.T) {
	r := validRecord()
	r["platform"] = "TWITTER"
	delete(r, "task_type")
	r["taskType"] = "Share"
	res, task := ValidateRecord(r)
	require.True(t, res.Valid, res.Reason)
	assert.Equal(t, schemas.PlatformTwitter, task.Platform)
	assert.Equal(t, schemas.TaskShare, task.Type)
}

func TestValidateRecord_TextLengthCountsCharacters(t *testing.T) {
	r := validRecord()
	// Two bytes per rune; 5000 runes is still within the limit.
	r["content"] = strings.Repeat("é", MaxTextLength)
	res, _ := ValidateRecord(r)
	assert.True(t, res.Valid, res.Reason)
}

func TestValidateRecord_BenignTextWithLookalikes(t *testing.T) {
	r := validRecord()
	r["content"] = "Going online = staying informed. Money = time. Description: scripted show"
	res, _ := ValidateRecord(r)
	assert.True(t, res.Valid, res.Reason)
}

func TestValidate_StringContentWithTopLevelMedia(t *testing.T) {
	raw := []byte(`{"id":"abc","platform":"facebook","task_type":"story","target_url":" https://www.facebook.com/x ",
		"content":"Fresh news","media_urls":["https://cdn.example.com/a.jpg", 7, ""]}`)
	res, task := Validate(raw)
	require.True(t, res.Valid, res.Reason)
	assert.Equal(t, "Fresh news", task.Content.Text)
	assert.Equal(t, []string{"https://cdn.example.com/a.jpg"}, task.Content.MediaURLs)
	assert.Equal(t, "https://www.facebook.com/x", task.TargetURL)
}

func TestValidate_MalformedPayloads(t *testing.T) {
	for _, raw := range []string{`not json`, `[1,2,3]`, `"a string"`, `null`} {
		res, task := Validate([]byte(raw))
		assert.False(t, res.Valid, raw)
		assert.Nil(t, task)
	}
}
