// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package tunnel

import (
	"net"
	"strconv"
	"strings"

	"github.com/juju/collections/set"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/scheduler"
)

// Endpoint is the address of the sshd run by the tunnel job. The zero
// value is the unresolved endpoint.
type Endpoint struct {
	Host string
	Port int
}

// Resolved reports whether e names a reachable address.
func (e Endpoint) Resolved() bool {
	return e.Host != "" && e.Port > 0
}

// Address returns e as host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	if !e.Resolved() {
		return "unresolved"
	}
	return e.Address()
}

// ParseEndpoint extracts the endpoint from a job listing. Only the last
// non-empty line counts. A line yields the unresolved endpoint unless it
// holds a host and a port separated by the field delimiter, neither is
// one of the unset markers, and the port is a valid TCP port.
func ParseEndpoint(listing string, unsetMarkers set.Strings) Endpoint {
	var last string
	for _, line := range strings.Split(listing, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			last = line
		}
	}
	parts := strings.SplitN(last, scheduler.FieldDelimiter, 2)
	if len(parts) != 2 {
		return Endpoint{}
	}
	host, description := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if host == "" || description == "" {
		return Endpoint{}
	}
	if unsetMarkers.Contains(host) || unsetMarkers.Contains(description) {
		return Endpoint{}
	}
	port, err := strconv.Atoi(description)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}
	}
	if host = executionHost(host); host == "" {
		return Endpoint{}
	}
	return Endpoint{Host: host, Port: port}
}

// executionHost strips the slot count from an execution host such as
// "4*nodeA", printed for jobs holding several slots on one host.
func executionHost(field string) string {
	if i := strings.Index(field, "*"); i >= 0 {
		return field[i+1:]
	}
	return field
}
