package syncerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesWrappedChain(t *testing.T) {
	err := fmt.Errorf("draining entity: %w", Network("dial tcp", errors.New("refused")))

	if !Is(err, ErrNetwork) {
		t.Error("expected ErrNetwork in wrapped chain")
	}
	if Is(err, ErrServer) {
		t.Error("unexpected ErrServer match")
	}
	if Is(nil, ErrNetwork) {
		t.Error("nil must not match any code")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Corrupted("local-1", cause)

	if !errors.Is(err, cause) {
		t.Error("AppError should unwrap to its cause")
	}
}

func TestErrorFormat(t *testing.T) {
	err := New(ErrCacheNotFound, "no cached record for x")
	want := "[CACHE_NOT_FOUND] no cached record for x"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(ErrNetwork, "probe", errors.New("timeout"))
	if wrapped.Error() != "[NETWORK_FAILURE] probe: timeout" {
		t.Errorf("got %q", wrapped.Error())
	}
}

func TestTerminal(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Server(422, "validation"), true},
		{Server(400, "bad request"), true},
		{Server(401, "unauthorized"), true},
		{Server(409, "conflict"), true},
		{Server(404, "not found"), true},
		{Server(500, "boom"), false},
		{Server(429, "slow down"), false},
		{Server(408, "timeout"), false},
		{Network("down", nil), false},
		{errors.New("plain"), false},
	}

	for _, c := range cases {
		if got := Terminal(c.err); got != c.want {
			t.Errorf("Terminal(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestGone(t *testing.T) {
	if !Gone(Server(404, "gone")) || !Gone(Server(410, "gone")) {
		t.Error("404 and 410 mean the entity is gone")
	}
	if Gone(Server(500, "boom")) || Gone(Network("404 in message", nil)) {
		t.Error("only 404/410 server failures count")
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(Server(503, "unavailable")); got != 503 {
		t.Errorf("StatusOf = %d, want 503", got)
	}
	if got := StatusOf(errors.New("plain")); got != 0 {
		t.Errorf("StatusOf(plain) = %d, want 0", got)
	}
}
