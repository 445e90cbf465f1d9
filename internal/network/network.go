// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package network holds the host-level network helpers used to decide
// where the tunnel runs and to pick the port its sshd listens on.
package network

import (
	"net"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("cluster-tunnel.network")

var (
	netListen     = net.Listen
	netLookupHost = net.LookupHost
	netLookupAddr = net.LookupAddr
	osHostname    = os.Hostname
)

// FreePort returns a TCP port that was free on all interfaces when it was
// probed. The listener is closed before returning, so another process may
// claim the port before the caller binds it.
func FreePort() (int, error) {
	l, err := netListen("tcp", ":0")
	if err != nil {
		return 0, errors.Annotate(err, "probing for a free port")
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.Errorf("unexpected listener address %v", l.Addr())
	}
	return addr.Port, nil
}

// FQDN returns the canonical name of host, or host itself if it cannot be
// resolved.
func FQDN(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if net.ParseIP(host) != nil {
		return host
	}
	addrs, err := netLookupHost(host)
	if err != nil || len(addrs) == 0 {
		logger.Tracef("cannot resolve %q: %v", host, err)
		return host
	}
	for _, addr := range addrs {
		names, err := netLookupAddr(addr)
		if err != nil || len(names) == 0 {
			continue
		}
		for _, name := range names {
			name = strings.TrimSuffix(strings.ToLower(name), ".")
			if strings.Contains(name, ".") {
				return name
			}
		}
	}
	return host
}

// HostOnly strips any user@ prefix from an ssh destination.
func HostOnly(destination string) string {
	if i := strings.LastIndex(destination, "@"); i >= 0 {
		return destination[i+1:]
	}
	return destination
}

// IsLocalHost reports whether destination names the host this process
// runs on.
func IsLocalHost(destination string) (bool, error) {
	local, err := osHostname()
	if err != nil {
		return false, errors.Annotate(err, "reading host name")
	}
	target := strings.TrimSuffix(strings.ToLower(HostOnly(destination)), ".")
	local = strings.TrimSuffix(strings.ToLower(local), ".")
	if target == local {
		return true, nil
	}
	localFQDN := FQDN(local)
	return localFQDN == target || localFQDN == FQDN(target), nil
}
