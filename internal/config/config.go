// Package config loads the optional on-disk configuration file that
// overlays the hard-coded transport defaults before any ssh-negotiated
// override is applied, keyed by host the way an ssh_config-style file is.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	ctlproto "github.com/qcp-project/qcp/internal/protocol/control"
	"github.com/qcp-project/qcp/internal/transport"
)

// fileConfig mirrors transport.Configuration's JSON-overridable fields.
// Bandwidth/RTT/timeout use pointers so that an absent key in the file
// leaves the corresponding default untouched, rather than zeroing it.
type fileConfig struct {
	Rx         *uint64  `json:"rx"`
	Tx         *uint64  `json:"tx"`
	RTT        *uint16  `json:"rtt"`
	Timeout    *uint16  `json:"timeout"`
	Port       *string  `json:"port"`
	RemotePort *string  `json:"remote_port"`
	Ssh        *string  `json:"ssh"`
	SshOptions []string `json:"ssh_options"`
}

// HostOverrides is the on-disk file's top-level shape: a default section
// plus one optional override section per host alias.
type HostOverrides struct {
	Default fileConfig            `json:"default"`
	Hosts   map[string]fileConfig `json:"hosts"`
}

// Load reads path and applies its "default" section, then the section
// for host (if present), onto base, returning the merged Configuration.
// A missing file is an error; a missing host section is not (base's
// values are left as-is).
func Load(path string, host string, base transport.Configuration) (transport.Configuration, error) {
	file, err := os.Open(path)
	if err != nil {
		return transport.Configuration{}, errors.Wrap(err, "config: opening configuration file")
	}
	defer file.Close()

	var overrides HostOverrides
	if err := json.NewDecoder(file).Decode(&overrides); err != nil {
		return transport.Configuration{}, errors.Wrap(err, "config: decoding configuration file")
	}

	cfg := base
	applyFileConfig(&cfg, overrides.Default)
	if hostCfg, ok := overrides.Hosts[host]; ok {
		applyFileConfig(&cfg, hostCfg)
	}
	return cfg, nil
}

func applyFileConfig(cfg *transport.Configuration, fc fileConfig) {
	if fc.Rx != nil {
		cfg.Rx = *fc.Rx
	}
	if fc.Tx != nil {
		cfg.Tx = *fc.Tx
	}
	if fc.RTT != nil {
		cfg.RTT = *fc.RTT
	}
	if fc.Timeout != nil {
		cfg.Timeout = *fc.Timeout
	}
	if fc.Port != nil {
		if pr, err := parsePortRange(*fc.Port); err == nil {
			cfg.Port = pr
		}
	}
	if fc.RemotePort != nil {
		if pr, err := parsePortRange(*fc.RemotePort); err == nil {
			cfg.RemotePort = pr
		}
	}
	if fc.Ssh != nil {
		cfg.Ssh = *fc.Ssh
	}
	if fc.SshOptions != nil {
		cfg.SshOptions = fc.SshOptions
	}
}

// RemoteClientIP returns the connecting client's IP address as reported by
// sshd via SSH_CONNECTION or SSH_CLIENT (the first whitespace-separated
// token of either), used to select the host section applied on the server
// side. Empty when neither variable is set.
func RemoteClientIP() string {
	for _, key := range []string{"SSH_CONNECTION", "SSH_CLIENT"} {
		if v := os.Getenv(key); v != "" {
			if fields := strings.Fields(v); len(fields) > 0 {
				return fields[0]
			}
		}
	}
	return ""
}

// parsePortRange parses either "N" (a single port, same begin/end) or
// "N-M" (an inclusive range) into a control.PortRange.
func parsePortRange(s string) (ctlproto.PortRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ctlproto.PortRange{}, nil
	}
	parts := strings.SplitN(s, "-", 2)
	begin, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return ctlproto.PortRange{}, errors.Wrapf(err, "config: invalid port %q", parts[0])
	}
	end := begin
	if len(parts) == 2 {
		end, err = strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			return ctlproto.PortRange{}, errors.Wrapf(err, "config: invalid port %q", parts[1])
		}
	}
	return ctlproto.PortRange{Begin: uint16(begin), End: uint16(end)}, nil
}
