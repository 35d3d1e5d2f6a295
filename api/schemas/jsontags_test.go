package schemas_test

import (
	"reflect"
	"strings"
	"testing"
	"time"

	// Third party libraries for expressive and robust assertions.
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Import the package we are testing.
	"github.com/xkilldash9x/herald/api/schemas"
)

// TestStructJSONTags uses reflection to verify that the `json` tags on wire structs
// match what the task server expects.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "RegisterRequest",
			structRef: schemas.RegisterRequest{},
			expectedTags: map[string]string{
				"Name":         "name",
				"InstanceID":   "instance_id",
				"Version":      "version",
				"Capabilities": "capabilities",
			},
		},
		{
			name:      "GetTaskResponse",
			structRef: schemas.GetTaskResponse{},
			expectedTags: map[string]string{
				"Success": "success",
				"HasTask": "has_task",
				"Task":    "task,omitempty",
				"Error":   "error,omitempty",
			},
		},
		{
			name:      "ReportStatusRequest",
			structRef: schemas.ReportStatusRequest{},
			expectedTags: map[string]string{
				"AgentID": "agent_id",
				"TaskID":  "task_id",
				"Status":  "status",
				"Error":   "error,omitempty",
			},
		},
		{
			name:      "PlatformRequest",
			structRef: schemas.PlatformRequest{},
			expectedTags: map[string]string{
				"AgentID":     "agent_id",
				"Platform":    "platform",
				"AccountName": "account_name",
			},
		},
		{
			name:      "StateRecord",
			structRef: schemas.StateRecord{},
			expectedTags: map[string]string{
				"Version":           "version",
				"SavedAt":           "saved_at",
				"State":             "state",
				"SealedCredentials": "sealed_credentials,omitempty",
			},
		},
		{
			name:      "Task",
			structRef: schemas.Task{},
			expectedTags: map[string]string{
				"ID":        "id",
				"Platform":  "platform",
				"Type":      "task_type",
				"TargetURL": "target_url,omitempty",
				"Content":   "content",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			typ := reflect.TypeOf(tt.structRef)
			require.Equal(t, len(tt.expectedTags), typ.NumField(), "field count drifted for %s", tt.name)
			for i := 0; i < typ.NumField(); i++ {
				field := typ.Field(i)
				expected, ok := tt.expectedTags[field.Name]
				require.True(t, ok, "unexpected field %s", field.Name)
				assert.Equal(t, expected, field.Tag.Get("json"), "tag mismatch on %s.%s", tt.name, field.Name)
			}
		})
	}
}

func TestParsePlatform(t *testing.T) {
	t.Parallel()
	id, err := schemas.ParsePlatform("  FaceBook ")
	require.NoError(t, err)
	assert.Equal(t, schemas.PlatformFacebook, id)

	info, ok := id.Info()
	require.True(t, ok)
	assert.Equal(t, "c_user", info.LoginCookie)

	_, err = schemas.ParsePlatform("myspace")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "myspace"))
}

func TestParseTaskType(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"post", "LIKE", "Comment", "share", "story"} {
		_, err := schemas.ParseTaskType(raw)
		assert.NoError(t, err, raw)
	}
	_, err := schemas.ParseTaskType("delete")
	assert.Error(t, err)
}

func TestRunStateCloneIsDeep(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 10, 26, 10, 0, 0, 0, time.UTC)
	orig := schemas.RunState{
		Credentials:     "secret",
		ActivePlatforms: []schemas.PlatformID{schemas.PlatformTwitter},
		LastPollAt:      &now,
		LastTask:        &schemas.TaskSummary{ID: "t1", Status: schemas.StatusCompleted},
	}

	c := orig.Clone()
	c.ActivePlatforms[0] = schemas.PlatformFacebook
	c.LastTask.ID = "changed"
	later := now.Add(time.Hour)
	*c.LastPollAt = later

	assert.Equal(t, schemas.PlatformTwitter, orig.ActivePlatforms[0])
	assert.Equal(t, "t1", orig.LastTask.ID)
	assert.Equal(t, now, *orig.LastPollAt)

	assert.Equal(t, "********", orig.Redacted().Credentials)
	assert.Equal(t, "secret", orig.Credentials)
}

func TestActionOutcomeStatus(t *testing.T) {
	t.Parallel()
	assert.Equal(t, schemas.StatusCompleted, schemas.Succeeded().Status())
	failed := schemas.Failed(assert.AnError)
	assert.Equal(t, schemas.StatusFailed, failed.Status())
	assert.Equal(t, assert.AnError.Error(), failed.Error)
	assert.Equal(t, "unknown error", schemas.Failed(nil).Error)
}

func TestElementGeometryCenter(t *testing.T) {
	t.Parallel()
	g := schemas.ElementGeometry{Vertices: []float64{10, 10, 30, 10, 30, 20, 10, 20}}
	x, y := g.Center()
	assert.Equal(t, 20.0, x)
	assert.Equal(t, 15.0, y)
}
