// Package hosts loads the worker hosts tasks are assigned to and detects
// which of them is the machine drover runs on.
package hosts

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// Type tells whether a host is this machine.
type Type string

const (
	Local  Type = "local"
	Remote Type = "remote"
)

// Spec is a host as configured.
type Spec struct {
	ID          string
	Hostname    string
	ProjectPath string
	Capacity    int
}

// Host is a resolved worker host.
type Host struct {
	ID          string `json:"id"`
	Hostname    string `json:"hostname"`
	ProjectPath string `json:"project_path"`
	Type        Type   `json:"type"`
	Capacity    int    `json:"capacity"`
}

// IsLocal reports whether the host is this machine.
func (h Host) IsLocal() bool { return h.Type == Local }

// Load validates specs and resolves them in order. Hosts with no capacity get
// defaultCapacity. A local host's project path becomes workDir.
func Load(specs []Spec, defaultCapacity int, workDir string, r *Resolver) ([]Host, error) {
	if r == nil {
		r = NewResolver()
	}
	seen := make(map[string]bool, len(specs))
	out := make([]Host, 0, len(specs))
	for i, s := range specs {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return nil, fmt.Errorf("host %d: missing id", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("host %s: duplicate id", id)
		}
		seen[id] = true
		if strings.TrimSpace(s.Hostname) == "" {
			return nil, fmt.Errorf("host %s: missing hostname", id)
		}
		if s.Capacity < 0 {
			return nil, fmt.Errorf("host %s: capacity must not be negative", id)
		}

		h := Host{
			ID:          id,
			Hostname:    strings.TrimSpace(s.Hostname),
			ProjectPath: s.ProjectPath,
			Type:        Remote,
			Capacity:    s.Capacity,
		}
		if h.Capacity == 0 {
			h.Capacity = defaultCapacity
		}
		if r.IsLocal(h.Hostname) {
			h.Type = Local
			h.ProjectPath = workDir
		}
		out = append(out, h)
	}
	return out, nil
}

// Resolver answers IsLocal. Its lookups are fields so tests can pin them.
type Resolver struct {
	Hostname       func() (string, error)
	InterfaceAddrs func() ([]net.Addr, error)
	LookupHost     func(host string) ([]string, error)
	LookupCNAME    func(host string) (string, error)
}

// NewResolver returns a resolver backed by the operating system.
func NewResolver() *Resolver {
	return &Resolver{
		Hostname:       os.Hostname,
		InterfaceAddrs: net.InterfaceAddrs,
		LookupHost:     net.LookupHost,
		LookupCNAME:    net.LookupCNAME,
	}
}

// StripUser removes a leading "user@" from an ssh-style host.
func StripUser(hostname string) string {
	if i := strings.LastIndex(hostname, "@"); i >= 0 {
		return hostname[i+1:]
	}
	return hostname
}

// IsLocal reports whether hostname names this machine. It checks loopback
// forms, then the interface addresses and host names of this machine, then
// resolves hostname and compares the addresses. Failed lookups count as no
// match.
func (r *Resolver) IsLocal(hostname string) bool {
	host := strings.ToLower(strings.TrimSpace(StripUser(hostname)))
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return false
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}

	addrs := r.localAddrs()
	if addrs[host] {
		return true
	}
	for _, name := range r.localNames() {
		if host == name {
			return true
		}
	}

	if net.ParseIP(host) != nil || r.LookupHost == nil {
		return false
	}
	resolved, err := r.LookupHost(host)
	if err != nil {
		return false
	}
	for _, a := range resolved {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || addrs[ip.String()] {
			return true
		}
	}
	return false
}

// localAddrs is the set of non-loopback interface addresses.
func (r *Resolver) localAddrs() map[string]bool {
	set := make(map[string]bool)
	if r.InterfaceAddrs == nil {
		return set
	}
	addrs, err := r.InterfaceAddrs()
	if err != nil {
		return set
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		set[ip.String()] = true
	}
	return set
}

// localNames returns the short hostname and its FQDN, lower-cased.
func (r *Resolver) localNames() []string {
	if r.Hostname == nil {
		return nil
	}
	name, err := r.Hostname()
	if err != nil || name == "" {
		return nil
	}
	name = strings.ToLower(name)
	names := []string{name}
	if short, _, ok := strings.Cut(name, "."); ok {
		names = append(names, short)
	}
	if r.LookupCNAME != nil {
		if fqdn, err := r.LookupCNAME(name); err == nil {
			fqdn = strings.ToLower(strings.TrimSuffix(fqdn, "."))
			if fqdn != "" && fqdn != name {
				names = append(names, fqdn)
			}
		}
	}
	return names
}
