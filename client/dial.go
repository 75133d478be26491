package client

import (
	"crypto/tls"
	"net/http"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/hashicorp/go-cleanhttp"
)

// NewHTTPClient creates a pooled HTTP client. tlsKey and tlsCert must be either both empty or
// non-empty; when set, the certificate is presented to the service for mutual TLS.
func NewHTTPClient(tlsCert, tlsKey string) (*http.Client, error) {
	hc := cleanhttp.DefaultPooledClient()

	if tlsCert != "" || tlsKey != "" {
		if tlsCert == "" || tlsKey == "" {
			return nil, fault.New("only one of tlsCert and tlsKey was provided")
		}
		cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return nil, fault.Wrap(err, fmsg.With("error loading TLS key pair"))
		}
		transport := hc.Transport.(*http.Transport)
		transport.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	return hc, nil
}
