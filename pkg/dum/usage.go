package dum

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/arzzra/sipua/pkg/ua"
)

// Обновление по истечении этой доли выданного времени
const refreshFraction = 0.9

// dialogState идентификация dialog-set и счетчик CSeq.
// Защищается мьютексом владельца.
type dialogState struct {
	callID       string
	localTag     string
	remoteTag    string
	cseq         uint32
	from         ua.NameAddr
	to           sip.Uri
	remoteTarget *sip.Uri
}

func newDialogState(from ua.NameAddr, to sip.Uri) dialogState {
	return dialogState{
		callID:   uuid.NewString(),
		localTag: newTag(),
		from:     from,
		to:       to,
	}
}

// reset начинает новый dialog-set с теми же адресами
func (d *dialogState) reset() {
	*d = newDialogState(d.from, d.to)
}

func (d *dialogState) established() bool {
	return d.remoteTag != ""
}

// adopt запоминает тег и target удаленной стороны из сообщения диалога
func (d *dialogState) adopt(remoteTag string, contact *sip.ContactHeader) {
	if d.remoteTag == "" && remoteTag != "" {
		d.remoteTag = remoteTag
	}
	if contact != nil {
		target := contact.Address
		d.remoteTarget = &target
	}
}

// request строит запрос со следующим CSeq к remote target, а пока его
// нет, к адресу To
func (d *dialogState) request(method sip.RequestMethod) *sip.Request {
	recipient := d.to
	if d.remoteTarget != nil {
		recipient = *d.remoteTarget
	}
	d.cseq++

	req := sip.NewRequest(method, recipient)
	req.AppendHeader(&sip.FromHeader{
		DisplayName: d.from.DisplayName,
		Address:     d.from.Uri,
		Params:      sip.NewParams().Add("tag", d.localTag),
	})
	toParams := sip.NewParams()
	if d.remoteTag != "" {
		toParams = toParams.Add("tag", d.remoteTag)
	}
	req.AppendHeader(&sip.ToHeader{Address: d.to, Params: toParams})
	callID := sip.CallIDHeader(d.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: d.cseq, MethodName: method})
	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)
	return req
}

// usage общая часть клиентских dialog-set'ов
type usage struct {
	m    *Manager
	kind string

	mu     sync.Mutex
	dialog dialogState
	timer  *time.Timer
	ended  bool
	gone   bool

	// одна транзакция за раз, чтобы CSeq шли по порядку
	sendMu sync.Mutex

	destroyOnce sync.Once
}

func (u *usage) callID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dialog.callID
}

// schedule запускает fn в отдельной горутине через d. Вызывать под u.mu.
func (u *usage) schedule(d time.Duration, fn func()) {
	if u.timer != nil {
		u.timer.Stop()
	}
	u.timer = time.AfterFunc(d, func() {
		u.m.spawn(fn)
	})
}

// stopTimer вызывать под u.mu
func (u *usage) stopTimer() {
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
}

// isGone сообщает, что уничтожение уже запланировано
func (u *usage) isGone() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.gone
}

// destroy один раз доставляет last и OnDialogSetDestroyed в горутину обработки
func (u *usage) destroy(h ua.DialogSetHandler, last func()) {
	u.destroyOnce.Do(func() {
		u.mu.Lock()
		u.gone = true
		u.ended = true
		u.stopTimer()
		callID := u.dialog.callID
		u.mu.Unlock()

		u.m.post(u.kind+"_destroyed", func() {
			if last != nil {
				last()
			}
			h.OnDialogSetDestroyed()
			u.m.release(callID)
		})
	})
}

func refreshDelay(granted uint32) time.Duration {
	d := time.Duration(float64(granted) * refreshFraction * float64(time.Second))
	if d < time.Second {
		return time.Second
	}
	return d
}

func secondsOf(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func newTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func headerValue(msg sip.Message, name string) (string, bool) {
	h := msg.GetHeader(name)
	if h == nil {
		return "", false
	}
	return strings.TrimSpace(h.Value()), true
}

func headerUint(msg sip.Message, name string) (uint32, bool) {
	v, ok := headerValue(msg, name)
	if !ok {
		return 0, false
	}
	// Retry-After может нести комментарий: "120 (overloaded);duration=60"
	if i := strings.IndexAny(v, " ;("); i >= 0 {
		v = v[:i]
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// retryAfter значение Retry-After в секундах или 0
func retryAfter(res *sip.Response) int {
	if res == nil {
		return 0
	}
	n, _ := headerUint(res, "Retry-After")
	return int(n)
}

func contacts(msg sip.Message) []*sip.ContactHeader {
	var out []*sip.ContactHeader
	for _, h := range msg.GetHeaders("Contact") {
		if c, ok := h.(*sip.ContactHeader); ok {
			out = append(out, c)
		}
	}
	return out
}

func firstContact(msg sip.Message) *sip.ContactHeader {
	if cs := contacts(msg); len(cs) > 0 {
		return cs[0]
	}
	return nil
}

func toTag(res *sip.Response) string {
	to := res.To()
	if to == nil || to.Params == nil {
		return ""
	}
	tag, _ := to.Params.Get("tag")
	return tag
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
