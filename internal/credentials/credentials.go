// Package credentials generates the ephemeral, per-session self-signed TLS
// identity used to bind the QUIC data channel to the keys exchanged over
// the ssh control channel. No PKI is involved: each side
// trusts exactly one peer certificate, received over the already-trusted
// ssh pipe.
package credentials

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// validity is deliberately short: these credentials exist only for the
// lifetime of a single qcp invocation.
const validity = 24 * time.Hour

// Credentials holds the ephemeral identity generated fresh by each
// endpoint at process start.
type Credentials struct {
	CommonName string
	CertDER    []byte
	PrivateKey ed25519.PrivateKey
	tlsCert    tls.Certificate
}

// Generate creates a fresh Ed25519 keypair and self-signed certificate with
// a random common name.
func Generate() (*Credentials, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "credentials: generating ed25519 keypair")
	}

	cn, err := randomCommonName()
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Wrap(err, "credentials: generating serial number")
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{cn},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return nil, errors.Wrap(err, "credentials: creating self-signed certificate")
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}

	return &Credentials{
		CommonName: cn,
		CertDER:    der,
		PrivateKey: priv,
		tlsCert:    tlsCert,
	}, nil
}

func randomCommonName() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.Wrap(err, "credentials: generating common name entropy")
	}
	return fmt.Sprintf("qcp-%s", hex.EncodeToString(b[:])), nil
}

// ClientTLSConfig builds a TLS client config presenting this endpoint's own
// certificate and trusting exactly one peer certificate (the server's,
// received over the control channel), with SNI set to the peer's CN.
func ClientTLSConfig(own *Credentials, peerCertDER []byte, peerName string, nextProtos []string) (*tls.Config, error) {
	pool, err := singleCertPool(peerCertDER)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{own.tlsCert},
		RootCAs:      pool,
		ServerName:   peerName,
		NextProtos:   nextProtos,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ServerTLSConfig builds a TLS server config presenting this endpoint's own
// certificate and requiring + trusting exactly one client certificate (the
// client's, received over the control channel). This is the Go equivalent
// of a WebPKI client-cert verifier built over a one-entry root store.
func ServerTLSConfig(own *Credentials, peerCertDER []byte, nextProtos []string) (*tls.Config, error) {
	pool, err := singleCertPool(peerCertDER)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{own.tlsCert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		NextProtos:   nextProtos,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func singleCertPool(der []byte) (*x509.CertPool, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Wrap(err, "credentials: parsing peer certificate")
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return pool, nil
}
