package ua

import (
	"context"
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sipua/pkg/logging"
)

// Параметры URI, которые по RFC 3261 19.1.4 обязаны совпадать,
// если присутствуют хотя бы в одном из сравниваемых URI
var significantUriParams = []string{"user", "ttl", "method", "maddr", "transport"}

const rinstanceParam = "rinstance"

// SelectIncomingConversationProfile выбирает профиль для входящего запроса.
// Только горутина обработки.
//
// Порядок: совпадение Request-URI с контактом регистрации (с учетом
// rinstance), затем AOR заголовка To, затем профиль по умолчанию.
func (ua *UserAgent) SelectIncomingConversationProfile(req *sip.Request) (*ConversationProfile, error) {
	if req == nil || ua.profiles.Len() == 0 {
		return nil, errNoProfileConfigured("select_incoming")
	}
	ctx := context.Background()
	reqUri := req.Recipient

	for _, reg := range ua.registrations.Snapshot() {
		for _, contact := range reg.ContactAddresses() {
			if !contactMatches(reqUri, contact) {
				continue
			}
			if profile, ok := ua.profiles.Get(reg.handle); ok {
				ua.logger.Debug(ctx, "профиль выбран по контакту регистрации",
					logging.Uint64("profile", uint64(reg.handle)))
				return profile, nil
			}
			ua.logger.Warn(ctx, "контакт совпал, но профиль уже удален",
				logging.Uint64("profile", uint64(reg.handle)))
		}
	}

	if to := req.To(); to != nil {
		toAor := aorOf(to.Address)
		for _, h := range ua.profiles.Handles() {
			profile, _ := ua.profiles.Get(h)
			if strings.EqualFold(toAor, profile.AOR()) {
				ua.logger.Debug(ctx, "профиль выбран по AOR заголовка To",
					logging.Uint64("profile", uint64(h)))
				return profile, nil
			}
		}
	}

	if h, ok := ua.defaultOutgoing.get(); ok {
		if profile, found := ua.profiles.Get(h); found {
			return profile, nil
		}
	}
	// профили есть, а профиль по умолчанию не назначен: берем наименьший
	h, _ := ua.profiles.First()
	profile, _ := ua.profiles.Get(h)
	return profile, nil
}

// ConversationProfileByMediaAddress первый профиль, у которого адрес
// в o= строке SessionCaps совпадает с addr. Только горутина обработки.
func (ua *UserAgent) ConversationProfileByMediaAddress(addr string) (*ConversationProfile, bool) {
	if addr == "" {
		ua.logger.Error(context.Background(), "пустой медиа-адрес при выборе профиля")
		return nil, false
	}
	for _, profile := range ua.profiles.Snapshot() {
		if profile.MediaAddress() == addr {
			return profile, true
		}
	}
	return nil, false
}

// contactMatches сравнивает Request-URI с контактом регистрации.
// Если в Request-URI есть rinstance, он должен совпасть с контактным.
func contactMatches(reqUri, contact sip.Uri) bool {
	if !uriEqual(reqUri, contact) {
		return false
	}
	reqInstance, has := paramValue(reqUri.UriParams, rinstanceParam)
	if !has {
		return true
	}
	contactInstance, has := paramValue(contact.UriParams, rinstanceParam)
	return has && reqInstance == contactInstance
}

func uriEqual(a, b sip.Uri) bool {
	if !strings.EqualFold(schemeOf(a), schemeOf(b)) {
		return false
	}
	if a.User != b.User || a.Password != b.Password {
		return false
	}
	if !strings.EqualFold(a.Host, b.Host) || a.Port != b.Port {
		return false
	}
	for _, name := range significantUriParams {
		av, aok := paramValue(a.UriParams, name)
		bv, bok := paramValue(b.UriParams, name)
		if aok != bok || !strings.EqualFold(av, bv) {
			return false
		}
	}
	return true
}

func schemeOf(u sip.Uri) string {
	if u.Scheme == "" {
		return "sip"
	}
	return u.Scheme
}

func paramValue(params sip.HeaderParams, name string) (string, bool) {
	if params == nil {
		return "", false
	}
	return params.Get(name)
}
