// qcp is a drop-in scp replacement that combines an ssh control channel
// with a QUIC data channel tuned for long, fat network paths.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/qcp-project/qcp/internal/client"
	"github.com/qcp-project/qcp/internal/config"
	ctlproto "github.com/qcp-project/qcp/internal/protocol/control"
	"github.com/qcp-project/qcp/internal/server"
	"github.com/qcp-project/qcp/internal/transport"
)

// VERSION is injected by build flags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "qcp"
	myApp.Usage = "a scp replacement that carries file data over QUIC"
	myApp.Version = VERSION
	myApp.ArgsUsage = "[source...] [destination]"
	myApp.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "server",
			Usage: "run in server mode, reading the control channel from stdin (invoked automatically over ssh)",
		},
		cli.StringFlag{
			Name:  "c",
			Usage: "path to a JSON configuration file overlaying the built-in defaults",
		},
		cli.StringFlag{
			Name:  "rx",
			Usage: "desired received bandwidth, in bytes/sec (default 12500000)",
		},
		cli.StringFlag{
			Name:  "tx",
			Usage: "desired transmit bandwidth, in bytes/sec (0 or unset mirrors rx)",
		},
		cli.IntFlag{
			Name:  "rtt",
			Value: int(transport.DefaultRTT),
			Usage: "estimated round-trip time to the remote host, in milliseconds",
		},
		cli.IntFlag{
			Name:  "timeout",
			Value: int(transport.DefaultTimeout),
			Usage: "timeout for connection setup, in seconds",
		},
		cli.StringFlag{
			Name:  "port",
			Usage: "local UDP port or port range to bind, e.g. 60000-60100",
		},
		cli.StringFlag{
			Name:  "remote-port",
			Usage: "UDP port or port range to request of the remote server",
		},
		cli.StringFlag{
			Name:  "ssh",
			Value: "ssh",
			Usage: "ssh binary to use for the control channel",
		},
		cli.StringFlag{
			Name:  "ssh-option",
			Usage: "extra option passed through to ssh, may be repeated with commas",
		},
		cli.BoolFlag{
			Name:  "4",
			Usage: "force IPv4",
		},
		cli.BoolFlag{
			Name:  "6",
			Usage: "force IPv6",
		},
		cli.BoolFlag{
			Name:  "quiet, q",
			Usage: "let ssh write its stderr straight to the terminal instead of relaying it",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "request extra diagnostics from the remote server",
		},
		cli.BoolFlag{
			Name:  "put",
			Usage: "force PUT direction when every argument looks local",
		},
		cli.BoolFlag{
			Name:  "compress",
			Usage: "compress file data in transit with snappy",
		},
		cli.BoolFlag{
			Name:  "show-config",
			Usage: "print the negotiated configuration after the handshake",
		},
		cli.BoolFlag{
			Name:  "dry-run",
			Usage: "resolve and validate the configuration, then exit without connecting",
		},
	}

	myApp.Action = runAction

	if err := myApp.Run(os.Args); err != nil {
		checkError(err)
	}
}

func runAction(c *cli.Context) error {
	if c.Bool("server") {
		return runServer(c)
	}
	return runClient(c)
}

func runServer(c *cli.Context) error {
	local := transport.Default()
	if path := c.String("c"); path != "" {
		// sshd tells us who is on the other end of the pipe; that IP keys
		// any host-specific section of the server's config file.
		loaded, err := config.Load(path, config.RemoteClientIP(), local)
		checkError(err)
		local = loaded
	}

	opts := server.Options{
		R:     os.Stdin,
		W:     os.Stdout,
		Local: local,
		Debug: c.Bool("debug"),
	}
	// Server diagnostics must never touch stdout: stdout is the control
	// channel. All server-side logging goes to stderr.
	log.SetOutput(os.Stderr)

	return server.Run(context.Background(), opts)
}

func runClient(c *cli.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return fmt.Errorf("qcp: expected at least one source and one destination, e.g. `qcp file.txt host:dest/`")
	}

	sources := args[:len(args)-1]
	dest := args[len(args)-1]

	host, transfers, err := buildTransfers(sources, dest, c.Bool("put"))
	if err != nil {
		return err
	}

	local := transport.Default()
	if path := c.String("c"); path != "" {
		loaded, err := config.Load(path, host, local)
		checkError(err)
		local = loaded
	}
	if rx := c.String("rx"); rx != "" {
		v, err := parseUint64Flag(rx)
		checkError(err)
		local.Rx = v
	}
	if tx := c.String("tx"); tx != "" {
		v, err := parseUint64Flag(tx)
		checkError(err)
		local.Tx = v
	}
	if rtt := c.Int("rtt"); rtt != 0 {
		local.RTT = uint16(rtt)
	}
	if timeout := c.Int("timeout"); timeout != 0 {
		local.Timeout = uint16(timeout)
	}
	if p := c.String("port"); p != "" {
		pr, err := parsePortRangeFlag(p)
		checkError(err)
		local.Port = pr
	}
	if p := c.String("remote-port"); p != "" {
		pr, err := parsePortRangeFlag(p)
		checkError(err)
		local.RemotePort = pr
	}

	af := transport.AddressFamilyAny
	if c.Bool("4") {
		af = transport.AddressFamilyV4
	} else if c.Bool("6") {
		af = transport.AddressFamilyV6
	}

	var sshOptions []string
	if raw := c.String("ssh-option"); raw != "" {
		sshOptions = strings.Split(raw, ",")
	}

	if c.Bool("dry-run") {
		if err := local.Validate(); err != nil {
			return err
		}
		log.Printf("dry run: would copy %d file(s) via %s with configuration %+v", len(transfers), host, local)
		return nil
	}

	opts := client.Options{
		Host:          host,
		Local:         local,
		AddressFamily: af,
		ShowConfig:    c.Bool("show-config"),
		Compress:      c.Bool("compress"),
		Debug:         c.Bool("debug"),
		Quiet:         c.Bool("quiet"),
		SSH: client.SSHOptions{
			Binary:  c.String("ssh"),
			Options: sshOptions,
		},
		Transfers: transfers,
	}

	res, err := client.Run(context.Background(), opts)
	if err != nil {
		return err
	}
	if res.Warning != "" {
		color.Yellow("qcp: %s", res.Warning)
	}
	if c.Bool("show-config") {
		log.Printf("negotiated configuration: %+v", res.Negotiated)
	}
	if c.Bool("debug") && res.Closedown != nil {
		cd := res.Closedown
		log.Printf("closedown: cwnd=%d sent=%d pkt/%d B lost=%d pkt/%d B congestion_events=%d black_holes=%d",
			cd.Cwnd, cd.SentPackets, cd.SentBytes, cd.LostPackets, cd.LostBytes, cd.CongestionEvents, cd.BlackHoles)
	}
	return nil
}

// remoteArg is "host:path"; a bare path with no colon before the first
// path separator is always local, matching scp's own disambiguation rule.
func splitRemoteArg(arg string) (host, path string, isRemote bool) {
	idx := strings.Index(arg, ":")
	if idx <= 0 {
		return "", arg, false
	}
	if strings.ContainsAny(arg[:idx], "/\\") {
		return "", arg, false
	}
	return arg[:idx], arg[idx+1:], true
}

// buildTransfers classifies source/dest arguments into a single GET (one
// remote source, one local dest) or a PUT batch (one or more local
// sources, one remote dest), following scp's argument form.
func buildTransfers(sources []string, dest string, forcePut bool) (string, []client.Transfer, error) {
	destHost, destPath, destRemote := splitRemoteArg(dest)

	if destRemote && !forcePut {
		transfers := make([]client.Transfer, 0, len(sources))
		for _, src := range sources {
			if _, _, remote := splitRemoteArg(src); remote {
				return "", nil, fmt.Errorf("qcp: cannot copy between two remote hosts")
			}
			transfers = append(transfers, client.Transfer{Put: true, Source: src, Dest: destPath})
		}
		return destHost, transfers, nil
	}

	if len(sources) != 1 {
		return "", nil, fmt.Errorf("qcp: GET accepts exactly one remote source")
	}
	srcHost, srcPath, srcRemote := splitRemoteArg(sources[0])
	if !srcRemote {
		return "", nil, fmt.Errorf("qcp: exactly one of source or destination must be of the form host:path")
	}
	return srcHost, []client.Transfer{{Put: false, Source: srcPath, Dest: dest}}, nil
}

func parsePortRangeFlag(s string) (ctlproto.PortRange, error) {
	parts := strings.SplitN(s, "-", 2)
	begin, err := parseUint16(parts[0])
	if err != nil {
		return ctlproto.PortRange{}, errors.Wrapf(err, "qcp: invalid port %q", parts[0])
	}
	end := begin
	if len(parts) == 2 {
		end, err = parseUint16(parts[1])
		if err != nil {
			return ctlproto.PortRange{}, errors.Wrapf(err, "qcp: invalid port %q", parts[1])
		}
	}
	return ctlproto.PortRange{Begin: begin, End: end}, nil
}

func parseUint64Flag(s string) (uint64, error) {
	var v uint64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, errors.Wrapf(err, "qcp: invalid numeric value %q", s)
	}
	return v, nil
}

func parseUint16(s string) (uint16, error) {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, err
	}
	if v < 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range", v)
	}
	return uint16(v), nil
}

func checkError(err error) {
	if err != nil {
		color.Red("qcp: %+v", err)
		os.Exit(1)
	}
}
