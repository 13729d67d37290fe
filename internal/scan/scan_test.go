package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntAfterMarker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		marker string
		key    string
		want   int64
		found  bool
	}{
		{
			name:   "marker mid-line",
			text:   "var x = 1;\nI.PagePush(); I.ViewJam({\"id\": 42, \"name\": \"jam\"});",
			marker: "I.ViewJam",
			key:    "id",
			want:   42,
			found:  true,
		},
		{
			name:   "marker at line start",
			text:   "I.ViewGame({\"id\":7});",
			marker: "I.ViewGame",
			key:    "id",
			want:   7,
			found:  true,
		},
		{
			name:   "marker absent",
			text:   "nothing to see here",
			marker: "I.ViewJam",
			key:    "id",
			found:  false,
		},
		{
			name:   "last occurrence wins",
			text:   "I.ViewJam({\"id\": 1});\nmore\nI.ViewJam({\"id\": 2});",
			marker: "I.ViewJam",
			key:    "id",
			want:   2,
			found:  true,
		},
		{
			name:   "key missing in marker line",
			text:   "I.ViewJam({\"slug\": \"cool-jam\"});",
			marker: "I.ViewJam",
			key:    "id",
			found:  false,
		},
		{
			name:   "key before marker is ignored",
			text:   "{\"id\": 9} I.ViewJam({\"name\": \"x\"});",
			marker: "I.ViewJam",
			key:    "id",
			found:  false,
		},
		{
			name:   "crlf line endings",
			text:   "first\r\nI.ViewJam({\"id\": 33});\r\n",
			marker: "I.ViewJam",
			key:    "id",
			want:   33,
			found:  true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, found := IntAfterMarker(tc.text, tc.marker, tc.key)
			assert.Equal(t, tc.found, found)
			if tc.found {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
