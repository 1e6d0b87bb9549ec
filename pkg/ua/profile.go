package ua

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/go-playground/validator/v10"
	"github.com/pion/sdp/v3"
)

var validate = validator.New()

// NameAddr адрес с отображаемым именем
type NameAddr struct {
	DisplayName string
	Uri         sip.Uri
}

func (n NameAddr) String() string {
	if n.DisplayName == "" {
		return "<" + n.Uri.String() + ">"
	}
	return strconv.Quote(n.DisplayName) + " <" + n.Uri.String() + ">"
}

// ConversationProfile набор настроек идентичности и регистрации.
// После AddConversationProfile профилем владеет агент; изменять его
// вызывающему нельзя.
type ConversationProfile struct {
	DefaultFrom NameAddr

	// DefaultRegistrationTime секунды; 0 означает не регистрироваться
	DefaultRegistrationTime uint32
	// RegistrationRetryTime пауза перед повтором неудачной регистрации
	RegistrationRetryTime uint32

	Username string
	Password string
	// Realm если задан, учетные данные отвечают только на вызов этой области
	Realm string

	OutboundProxy *sip.Uri

	// SessionCaps используется только для выбора профиля по медиа-адресу
	SessionCaps *sdp.SessionDescription

	handle ConversationProfileHandle
}

// Handle хэндл, назначенный при добавлении; 0 до добавления
func (p *ConversationProfile) Handle() ConversationProfileHandle {
	return p.handle
}

// AOR address-of-record профиля: user@host[:port]
func (p *ConversationProfile) AOR() string {
	return aorOf(p.DefaultFrom.Uri)
}

// MediaAddress unicast-адрес из o= строки SessionCaps
func (p *ConversationProfile) MediaAddress() string {
	if p.SessionCaps == nil {
		return ""
	}
	return p.SessionCaps.Origin.UnicastAddress
}

type profileRules struct {
	Scheme           string `validate:"omitempty,oneof=sip sips SIP SIPS"`
	Host             string `validate:"required,hostname_rfc1123|ip"`
	RegistrationTime uint32 `validate:"lte=604800"`
	RetryTime        uint32 `validate:"lte=86400"`
	Username         string `validate:"required_with=Password"`
	Password         string
	ProxyHost        string `validate:"omitempty,hostname_rfc1123|ip"`
}

// Validate проверяет профиль перед добавлением
func (p *ConversationProfile) Validate() error {
	if p == nil {
		return errInvalidProfile(fmt.Errorf("nil profile"))
	}
	rules := profileRules{
		Scheme:           p.DefaultFrom.Uri.Scheme,
		Host:             p.DefaultFrom.Uri.Host,
		RegistrationTime: p.DefaultRegistrationTime,
		RetryTime:        p.RegistrationRetryTime,
		Username:         p.Username,
		Password:         p.Password,
	}
	if p.OutboundProxy != nil {
		rules.ProxyHost = p.OutboundProxy.Host
		if rules.ProxyHost == "" {
			return errInvalidProfile(fmt.Errorf("outbound proxy without host"))
		}
	}
	if err := validate.Struct(rules); err != nil {
		return errInvalidProfile(err)
	}
	return nil
}

// LoadSessionCaps разбирает SDP и сохраняет его как SessionCaps
func (p *ConversationProfile) LoadSessionCaps(raw []byte) error {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal(raw); err != nil {
		return errInvalidProfile(fmt.Errorf("session caps: %w", err))
	}
	p.SessionCaps = sd
	return nil
}

func aorOf(u sip.Uri) string {
	var b strings.Builder
	if u.User != "" {
		b.WriteString(u.User)
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Port > 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(u.Port))
	}
	return b.String()
}
