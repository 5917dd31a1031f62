package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"limit=10&offset=30", 10, 30},
		{"limit=500", MaxLimit, 0},
		{"limit=-4&offset=-2", DefaultLimit, 0},
		{"limit=10&page=3", 10, 20},
		{"limit=10&page=3&offset=5", 10, 5},
		{"page=0", DefaultLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := paramsFor(tt.query)
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want %d/%d", p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2}, 45, Params{Limit: 20, Offset: 20})
	if r.Page != 2 || r.Pages != 3 || !r.HasMore {
		t.Errorf("unexpected response %+v", r)
	}

	r = NewResponse([]int{}, 0, Params{Limit: 20})
	if r.Page != 1 || r.Pages != 0 || r.HasMore {
		t.Errorf("unexpected empty response %+v", r)
	}

	r = NewResponse(nil, 40, Params{Limit: 20, Offset: 20})
	if r.HasMore {
		t.Error("last page should not have more")
	}
}
