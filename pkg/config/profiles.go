package config

import (
	"fmt"
	"os"

	"github.com/emiago/sipgo/sip"
	"github.com/pion/sdp/v3"

	"github.com/arzzra/sipua/pkg/transport"
	"github.com/arzzra/sipua/pkg/ua"
)

// ConversationProfile строит профиль агента. SDP-файл, если задан,
// читается целиком и становится SessionCaps.
func (p Profile) ConversationProfile() (*ua.ConversationProfile, error) {
	var aor sip.Uri
	if err := sip.ParseUri(p.AOR, &aor); err != nil {
		return nil, fmt.Errorf("profile %s: parse aor: %w", p.AOR, err)
	}
	cp := &ua.ConversationProfile{
		DefaultFrom:             ua.NameAddr{DisplayName: p.DisplayName, Uri: aor},
		DefaultRegistrationTime: p.RegistrationTime,
		RegistrationRetryTime:   p.RetryTime,
		Username:                p.Username,
		Password:                p.Password,
		Realm:                   p.Realm,
	}
	if p.OutboundProxy != "" {
		var proxy sip.Uri
		if err := sip.ParseUri(p.OutboundProxy, &proxy); err != nil {
			return nil, fmt.Errorf("profile %s: parse outbound_proxy: %w", p.AOR, err)
		}
		cp.OutboundProxy = &proxy
	}
	if p.SDPFile != "" {
		raw, err := os.ReadFile(p.SDPFile)
		if err != nil {
			return nil, fmt.Errorf("profile %s: read sdp_file: %w", p.AOR, err)
		}
		caps := &sdp.SessionDescription{}
		if err := caps.Unmarshal(raw); err != nil {
			return nil, fmt.Errorf("profile %s: parse sdp_file: %w", p.AOR, err)
		}
		cp.SessionCaps = caps
	}
	return cp, nil
}

// TargetUri разбирает адрес подписки или публикации
func TargetUri(raw string) (sip.Uri, error) {
	var u sip.Uri
	if err := sip.ParseUri(raw, &u); err != nil {
		return sip.Uri{}, fmt.Errorf("parse target %s: %w", raw, err)
	}
	return u, nil
}

// TransportInfos описания транспортов для transport.Manager. Ошибка
// загрузки сертификата не прерывает остальные: такой транспорт уходит
// без TLSConfig, и менеджер пропустит его при добавлении.
func (c Config) TransportInfos() ([]transport.Info, []error) {
	infos := make([]transport.Info, 0, len(c.Transports))
	var errs []error
	for _, t := range c.Transports {
		info := transport.Info{
			Network:   t.Network,
			Host:      t.Host,
			Port:      t.Port,
			RcvBufLen: t.RcvBufLen,
		}
		if t.TLSCert != "" {
			tlsConfig, err := transport.LoadTLSConfig(t.TLSCert, t.TLSKey)
			if err != nil {
				errs = append(errs, err)
			} else {
				info.TLSConfig = tlsConfig
			}
		}
		infos = append(infos, info)
	}
	return infos, errs
}
