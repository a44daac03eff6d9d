package transport

import (
	"fmt"

	"github.com/qcp-project/qcp/internal/protocol/control"
)

// Negotiate combines the server's local Configuration with the client's
// preferences (from ClientMessageV1) into a single final Configuration,
// applying each field's resolution rule. It does not validate the result;
// callers run Configuration.Validate() afterward.
func Negotiate(server Configuration, client *control.ClientMessageV1) (Configuration, error) {
	result := server

	result.Rx = minIgnoringZero(optionalUint64OrZero(client.BandwidthToServer), server.Rx)
	result.Tx = minIgnoringZero(optionalUint64OrZero(client.BandwidthToClient), server.Tx)

	if client.RTT != nil {
		result.RTT = *client.RTT
	}

	if client.Congestion != nil {
		if *client.Congestion != server.Congestion {
			return Configuration{}, fmt.Errorf("server and client have incompatible congestion algorithm requirements")
		}
		result.Congestion = *client.Congestion
	}

	// Initial congestion window: server preference always wins.
	result.InitialCongestionWindow = server.InitialCongestionWindow

	if client.Timeout != nil {
		result.Timeout = *client.Timeout
	}

	remotePort := control.PortRange{}
	if client.RemotePort != nil {
		remotePort = *client.RemotePort
	}
	combined, err := control.Combine(server.Port, remotePort)
	if err != nil {
		return Configuration{}, err
	}
	result.Port = combined

	return result, nil
}

// minIgnoringZero returns the smaller of cli and srv, treating 0 on either
// side as "no preference, use the other value".
func minIgnoringZero(cli, srv uint64) uint64 {
	if cli == 0 {
		return srv
	}
	if srv == 0 {
		return cli
	}
	if cli < srv {
		return cli
	}
	return srv
}

func optionalUint64OrZero(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
