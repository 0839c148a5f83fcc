package controller

import (
	"net/http"
	"strconv"

	"github.com/classhall/standings/pkg/leaderboard/facade"
)

type pageSpec struct {
	Limit              int
	Offset             int
	IncludeParticipant string
}

// parsePageSpec reads limit/offset/include query parameters. Out-of-range
// values are clamped, not rejected; only unparseable input is an error.
func parsePageSpec(r *http.Request) (pageSpec, error) {
	qs := r.URL.Query()

	limit := facade.DefaultLimit
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return pageSpec{}, errInvalidLimit
		}
		limit = n
	}

	offset := 0
	if v := qs.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return pageSpec{}, errInvalidOffset
		}
		offset = n
	}

	limit, offset = facade.NormalizePage(limit, offset)

	return pageSpec{
		Limit:              limit,
		Offset:             offset,
		IncludeParticipant: qs.Get("include"),
	}, nil
}

var (
	errInvalidLimit  = &parseError{msg: "invalid limit"}
	errInvalidOffset = &parseError{msg: "invalid offset"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
