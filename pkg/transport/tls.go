package transport

import (
	"crypto/tls"
)

// LoadTLSConfig собирает серверный TLS конфиг из PEM сертификата и ключа
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, &TransportError{Transport: "tls", Address: certFile, Operation: "load certificate", Err: err}
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}
