package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	// ErrManagerClosed транспорт добавляется после Shutdown
	ErrManagerClosed = errors.New("transport manager closed")

	// ErrUnsupportedNetwork сеть, которую менеджер не умеет открыть
	ErrUnsupportedNetwork = errors.New("unsupported network")

	// ErrMissingTLSConfig tls транспорт без сертификата
	ErrMissingTLSConfig = errors.New("tls transport requires a certificate")
)

// TransportError ошибка одной операции над транспортом
type TransportError struct {
	Transport string
	Address   string
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Transport, e.Operation, e.Address, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Transport, e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNetworkError сообщает, вызвана ли ошибка сетевым уровнем, а не SIP:
// неудачный dial или запись, сброс, закрытое соединение.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
