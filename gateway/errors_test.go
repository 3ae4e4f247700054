package gateway

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRateLimited(t *testing.T) {
	e := RateLimited(2500 * time.Millisecond)
	if e.Code != CodeRateLimited {
		t.Errorf("Code = %q", e.Code)
	}
	if got := e.Extensions["retryAfter"]; got != 3 {
		t.Errorf("retryAfter = %v, want 3 (rounded up)", got)
	}
	if got := RateLimited(0).Extensions["retryAfter"]; got != 1 {
		t.Errorf("retryAfter floor = %v, want 1", got)
	}
}

func TestFormat_CodedErrorPassesThrough(t *testing.T) {
	src := RateLimited(time.Second)
	for _, production := range []bool{true, false} {
		out := Format(src, production)
		if out.Code != CodeRateLimited {
			t.Errorf("production=%v: Code = %q", production, out.Code)
		}
		if out.Message != "rate limit exceeded" {
			t.Errorf("production=%v: Message = %q", production, out.Message)
		}
		if out.Extensions["retryAfter"] != 1 {
			t.Errorf("production=%v: retryAfter lost", production)
		}
		if out.Extensions["code"] != CodeRateLimited {
			t.Errorf("production=%v: code extension = %v", production, out.Extensions["code"])
		}
	}
}

func TestFormat_WrappedCodedError(t *testing.T) {
	wrapped := fmt.Errorf("resolving field: %w", NewError(CodeBadRequest, "bad field"))
	out := Format(wrapped, true)
	if out.Code != CodeBadRequest || out.Message != "bad field" {
		t.Errorf("Format(wrapped) = %+v", out)
	}
}

func TestFormat_RedactsInternalInProduction(t *testing.T) {
	src := errors.New("pq: connection refused at 10.0.0.5:5432")

	prod := Format(src, true)
	if prod.Message != "internal server error" {
		t.Errorf("production message leaked internals: %q", prod.Message)
	}
	if prod.Code != CodeInternal {
		t.Errorf("Code = %q", prod.Code)
	}

	dev := Format(src, false)
	if dev.Message != src.Error() {
		t.Errorf("development message = %q, want original", dev.Message)
	}
}
