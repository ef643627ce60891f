package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

const dockerHostAlias = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker returns true if the process runs inside a Docker container.
// Detection is based on /.dockerenv and cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback hosts to the Docker host alias when running
// in a container, so a local metadata store or model server stays reachable.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	return resolveLoopback(host)
}

// ResolveURLForDocker applies ResolveHostForDocker to the host part of a URL.
// Strings that do not parse as URLs with a host are returned unchanged.
func ResolveURLForDocker(raw string) string {
	if !IsRunningInDocker() {
		return raw
	}
	return rewriteURLHost(raw)
}

func resolveLoopback(host string) string {
	if host == "localhost" || host == "127.0.0.1" {
		return dockerHostAlias
	}
	return host
}

func rewriteURLHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		u.Host = resolveLoopback(u.Host)
		return u.String()
	}
	u.Host = net.JoinHostPort(resolveLoopback(host), port)
	return u.String()
}

// resolveDockerHosts rewrites every loopback endpoint in the configuration.
func (c *Config) resolveDockerHosts() {
	if !IsRunningInDocker() {
		return
	}
	c.Database.Host = ResolveHostForDocker(c.Database.Host)
	c.Redis.Host = ResolveHostForDocker(c.Redis.Host)
	c.Warehouse.URL = ResolveURLForDocker(c.Warehouse.URL)
	c.LLM.BaseURL = ResolveURLForDocker(c.LLM.BaseURL)
	c.LLM.Local.BaseURL = ResolveURLForDocker(c.LLM.Local.BaseURL)
	c.Embedding.BaseURL = ResolveURLForDocker(c.Embedding.BaseURL)
}
