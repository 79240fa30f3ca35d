package hosts

import (
	"errors"
	"net"
	"testing"
)

// fakeResolver pins this machine to "builder" / builder.lan / 10.0.0.5.
func fakeResolver() *Resolver {
	return &Resolver{
		Hostname: func() (string, error) { return "builder", nil },
		InterfaceAddrs: func() ([]net.Addr, error) {
			return []net.Addr{
				&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
				&net.IPNet{IP: net.ParseIP("10.0.0.5"), Mask: net.CIDRMask(24, 32)},
			}, nil
		},
		LookupHost: func(host string) ([]string, error) {
			switch host {
			case "alias.internal":
				return []string{"10.0.0.5"}, nil
			case "loop.internal":
				return []string{"127.0.1.1"}, nil
			case "other.internal":
				return []string{"10.0.0.9"}, nil
			}
			return nil, errors.New("no such host")
		},
		LookupCNAME: func(host string) (string, error) {
			if host == "builder" {
				return "builder.lan.", nil
			}
			return "", errors.New("no such host")
		},
	}
}

func TestIsLocal(t *testing.T) {
	r := fakeResolver()
	tests := map[string]bool{
		"localhost":           true,
		"127.0.0.1":           true,
		"::1":                 true,
		"deploy@127.0.0.1":    true,
		"10.0.0.5":            true,
		"ci@10.0.0.5":         true,
		"builder":             true,
		"BUILDER":             true,
		"builder.lan":         true,
		"alias.internal":      true,
		"loop.internal":       true,
		"other.internal":      false,
		"10.0.0.9":            false,
		"unknown.example.com": false,
		"":                    false,
	}
	for host, want := range tests {
		if got := r.IsLocal(host); got != want {
			t.Errorf("IsLocal(%q): expected %v, got %v", host, want, got)
		}
	}
}

func TestIsLocal_Repeatable(t *testing.T) {
	r := fakeResolver()
	for i := 0; i < 3; i++ {
		if !r.IsLocal("builder") {
			t.Fatalf("iteration %d: expected builder local", i)
		}
	}
}

func TestIsLocal_LookupFailures(t *testing.T) {
	r := &Resolver{
		Hostname:       func() (string, error) { return "", errors.New("boom") },
		InterfaceAddrs: func() ([]net.Addr, error) { return nil, errors.New("boom") },
		LookupHost:     func(string) ([]string, error) { return nil, errors.New("boom") },
	}
	if r.IsLocal("somewhere") {
		t.Error("expected failing lookups to mean remote")
	}
	if !r.IsLocal("localhost") {
		t.Error("expected localhost local without any lookups")
	}
}

func TestLoad(t *testing.T) {
	specs := []Spec{
		{ID: "local", Hostname: "me@localhost", ProjectPath: "/ignored"},
		{ID: "remote", Hostname: "10.0.0.9", ProjectPath: "/srv/app", Capacity: 2},
	}
	hs, err := Load(specs, 5, "/work/checkout", fakeResolver())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(hs) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(hs))
	}
	if hs[0].Type != Local || hs[0].ProjectPath != "/work/checkout" {
		t.Errorf("expected local host with cwd path, got %+v", hs[0])
	}
	if hs[0].Capacity != 5 {
		t.Errorf("expected default capacity 5, got %d", hs[0].Capacity)
	}
	if hs[1].Type != Remote || hs[1].ProjectPath != "/srv/app" || hs[1].Capacity != 2 {
		t.Errorf("unexpected remote host %+v", hs[1])
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string][]Spec{
		"missing id":       {{Hostname: "a"}},
		"duplicate id":     {{ID: "a", Hostname: "a"}, {ID: "a", Hostname: "b"}},
		"missing hostname": {{ID: "a"}},
		"negative cap":     {{ID: "a", Hostname: "a", Capacity: -1}},
	}
	for name, specs := range cases {
		if _, err := Load(specs, 5, "/w", fakeResolver()); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestStripUser(t *testing.T) {
	if got := StripUser("ci@build-1"); got != "build-1" {
		t.Errorf("expected build-1, got %q", got)
	}
	if got := StripUser("build-1"); got != "build-1" {
		t.Errorf("expected build-1, got %q", got)
	}
}
