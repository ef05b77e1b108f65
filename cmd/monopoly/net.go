package main

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const defaultRPCPort = 8545

// rpcEndpoint turns the RPC_URL setting into something ethclient can dial.
// URLs and IPC paths are kept as they are; a bare host or host:port is
// completed with the http scheme and the default node port.
func rpcEndpoint(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty rpc address")
	}
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return "", err
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return "", fmt.Errorf("unsupported rpc scheme %q", u.Scheme)
		}
		if u.Host == "" {
			return "", fmt.Errorf("rpc url %q has no host", addr)
		}
		return u.String(), nil
	}
	if strings.HasPrefix(addr, "/") || strings.HasSuffix(addr, ".ipc") {
		return addr, nil
	}
	host, port, err := splitHostPort(addr, defaultRPCPort)
	if err != nil {
		return "", err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", fmt.Errorf("invalid rpc port %q", port)
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// splitHostPort splits an address into host and port, using defaultPort if no port is specified.
func splitHostPort(addr string, defaultPort int) (string, string, error) {
	ipaddr, port, err := net.SplitHostPort(addr)
	if err != nil {
		addr = addr + ":" + strconv.Itoa(defaultPort)
		ipaddr, port, err = net.SplitHostPort(addr)
		if err != nil {
			return "", "", err
		}
	}
	return ipaddr, port, nil
}
