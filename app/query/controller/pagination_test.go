package controller

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhall/standings/pkg/leaderboard/facade"
)

func TestParsePageSpec(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    pageSpec
		wantErr bool
	}{
		{
			name:  "defaults",
			query: "",
			want:  pageSpec{Limit: facade.DefaultLimit, Offset: 0},
		},
		{
			name:  "explicit values",
			query: "?limit=20&offset=40",
			want:  pageSpec{Limit: 20, Offset: 40},
		},
		{
			name:  "limit clamped to max",
			query: "?limit=5000",
			want:  pageSpec{Limit: facade.MaxLimit, Offset: 0},
		},
		{
			name:  "include participant",
			query: "?include=student-42",
			want:  pageSpec{Limit: facade.DefaultLimit, Offset: 0, IncludeParticipant: "student-42"},
		},
		{
			name:    "unparseable limit",
			query:   "?limit=abc",
			wantErr: true,
		},
		{
			name:    "zero limit",
			query:   "?limit=0",
			wantErr: true,
		},
		{
			name:    "negative offset",
			query:   "?offset=-1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/scopes/CLASS/math-7b/leaderboard/WEEKLY"+tt.query, nil)
			spec, err := parsePageSpec(r)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, spec)
		})
	}
}
