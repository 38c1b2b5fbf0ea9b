package overlay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func staticRunner(t *testing.T, ipOut, statusOut string, fail bool) Runner {
	t.Helper()
	return func(ctx context.Context, args ...string) ([]byte, error) {
		if fail {
			return nil, errors.New("exit status 1")
		}
		switch args[0] {
		case "ip":
			return []byte(ipOut), nil
		case "status":
			return []byte(statusOut), nil
		}
		t.Fatalf("unexpected invocation: %v", args)
		return nil, nil
	}
}

func TestLocalEndpoint(t *testing.T) {
	a := NewWithRunner(staticRunner(t, "100.64.1.5\n", "", false))
	ip, ok := a.LocalEndpoint()
	if !ok || ip != "100.64.1.5" {
		t.Fatalf("got %q, %v", ip, ok)
	}
}

func TestLocalEndpointMalformed(t *testing.T) {
	cases := []string{"", "not-an-ip\n", "100.64.1.5 100.64.1.6\n", "fe80::1\n"}
	for _, out := range cases {
		a := NewWithRunner(staticRunner(t, out, "", false))
		if _, ok := a.LocalEndpoint(); ok {
			t.Fatalf("expected failure for output %q", out)
		}
	}
}

func TestLocalEndpointCommandFailure(t *testing.T) {
	a := NewWithRunner(staticRunner(t, "", "", true))
	if _, ok := a.LocalEndpoint(); ok {
		t.Fatal("expected failure when CLI errors")
	}
}

func TestVerifyPeer(t *testing.T) {
	status := "100.64.1.10 alpha linux active\n100.64.1.11 beta darwin idle\n# comment\n"
	a := NewWithRunner(staticRunner(t, "", status, false))

	ok, name := a.VerifyPeer("100.64.1.10")
	if !ok || name != "alpha" {
		t.Fatalf("got %v, %q", ok, name)
	}
	ok, name = a.VerifyPeer("100.64.1.99")
	if ok || name != UnknownPeer {
		t.Fatalf("got %v, %q", ok, name)
	}
}

func TestVerifyPeerFailureIsUnknown(t *testing.T) {
	a := NewWithRunner(staticRunner(t, "", "", true))
	ok, name := a.VerifyPeer("100.64.1.10")
	if ok || name != UnknownPeer {
		t.Fatalf("got %v, %q", ok, name)
	}
}

func TestCacheRefreshAfterLifetime(t *testing.T) {
	calls := 0
	now := time.Now()
	a := NewWithRunner(func(ctx context.Context, args ...string) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte("100.64.1.10 alpha\n"), nil
		}
		return []byte("100.64.1.20 gamma\n"), nil
	})
	a.now = func() time.Time { return now }

	if ok, _ := a.VerifyPeer("100.64.1.10"); !ok {
		t.Fatal("expected hit on first mapping")
	}
	// Within lifetime: no refresh, still the old whole mapping.
	if ok, _ := a.VerifyPeer("100.64.1.20"); ok {
		t.Fatal("unexpected hit before refresh")
	}
	if calls != 1 {
		t.Fatalf("expected 1 CLI call, got %d", calls)
	}

	now = now.Add(cacheLifetime + time.Second)
	if ok, _ := a.VerifyPeer("100.64.1.20"); !ok {
		t.Fatal("expected hit after refresh")
	}
	if ok, _ := a.VerifyPeer("100.64.1.10"); ok {
		t.Fatal("stale entry survived whole-cache refresh")
	}
}

func TestRefreshFailureOfExpiredCacheIsUnknown(t *testing.T) {
	calls := 0
	now := time.Now()
	a := NewWithRunner(func(ctx context.Context, args ...string) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte("100.64.1.10 alpha\n"), nil
		}
		return nil, errors.New("overlay down")
	})
	a.now = func() time.Time { return now }

	if ok, _ := a.VerifyPeer("100.64.1.10"); !ok {
		t.Fatal("expected initial hit")
	}
	now = now.Add(cacheLifetime + time.Second)
	if ok, _ := a.VerifyPeer("100.64.1.10"); ok {
		t.Fatal("failed refresh of an expired cache must not authenticate")
	}
}
