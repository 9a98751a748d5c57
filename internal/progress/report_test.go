package progress

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_Text(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   string
	}{
		{
			name:   "status with method and counters",
			report: Report{Status: "reading", Read: 120, Skipped: 3, Method: "CSV"},
			want:   "reading CSV (read=120, skipped=3)",
		},
		{
			name:   "message appended",
			report: Report{Status: "working 1/0/3", Read: 5, Method: "lst", Message: "line 7 malformed"},
			want:   "working 1/0/3 lst (read=5, skipped=0): line 7 malformed",
		},
		{
			name:   "no method",
			report: Report{Status: "idle"},
			want:   "idle (read=0, skipped=0)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.Text())
		})
	}
}

func TestReport_ErrorText(t *testing.T) {
	assert.Equal(t, "Error", Report{Status: StatusError}.ErrorText())
	assert.Equal(t, "Error: Cannot find file x.csv", Report{Status: StatusError, Message: "Cannot find file x.csv"}.ErrorText())
}

func TestReport_Terminal(t *testing.T) {
	assert.True(t, Report{Status: StatusDone}.Terminal())
	assert.True(t, Report{Status: StatusError}.Terminal())
	assert.False(t, Report{Status: StatusIdle}.Terminal())
	assert.False(t, Report{Status: "preparing"}.Terminal())
}

func TestReport_UnmarshalJSON(t *testing.T) {
	var r Report
	require.NoError(t, json.Unmarshal([]byte(`{"status":"working","read":4,"skipped":1,"msg":"hi","method":"db","extra":true}`), &r))
	assert.Equal(t, Report{Status: "working", Read: 4, Skipped: 1, Message: "hi", Method: "db"}, r)

	var minimal Report
	require.NoError(t, json.Unmarshal([]byte(`{"status":"idle"}`), &minimal))
	assert.Equal(t, Report{Status: StatusIdle}, minimal)
}

func TestReport_UnmarshalJSON_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"missing status":   `{"read":1}`,
		"blank status":     `{"status":"  "}`,
		"negative read":    `{"status":"working","read":-1}`,
		"negative skipped": `{"status":"working","skipped":-2}`,
		"wrong type":       `{"status":3}`,
	} {
		t.Run(name, func(t *testing.T) {
			var r Report
			assert.Error(t, json.Unmarshal([]byte(body), &r))
		})
	}
}
