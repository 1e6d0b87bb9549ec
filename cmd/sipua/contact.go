package main

import (
	"fmt"
	"net"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sipua/pkg/transport"
)

// contactUri возвращает адрес Contact: явно заданный или первого транспорта
func contactUri(raw string, bound []transport.Bound) (sip.Uri, error) {
	var u sip.Uri
	if raw != "" {
		if err := sip.ParseUri(raw, &u); err != nil {
			return u, fmt.Errorf("contact %q: %w", raw, err)
		}
		return u, nil
	}
	if len(bound) == 0 {
		return u, fmt.Errorf("contact: no bound transport")
	}
	first := bound[0]
	host := "127.0.0.1"
	if tcp, ok := first.Addr.(*net.TCPAddr); ok && !tcp.IP.IsUnspecified() {
		host = tcp.IP.String()
	}
	if udp, ok := first.Addr.(*net.UDPAddr); ok && !udp.IP.IsUnspecified() {
		host = udp.IP.String()
	}
	u = sip.Uri{Scheme: "sip", Host: host, Port: first.Port, UriParams: sip.NewParams()}
	if first.Network == "tls" {
		u.Scheme = "sips"
	}
	if first.Network != "udp" {
		u.UriParams.Add("transport", first.Network)
	}
	return u, nil
}
