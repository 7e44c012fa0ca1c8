package signal

import (
	"fmt"

	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
	"github.com/godbus/dbus/v5"
)

// D-Bus wire identity. Notification names travel as the single string
// argument of the Posted signal, since D-Bus member names cannot carry dots.
const (
	dbusPath      = dbus.ObjectPath("/org/screenrelay/Notify")
	dbusInterface = "org.screenrelay.Notify"
	dbusMember    = "Posted"
)

// Bus selects which message bus DialDBus connects to
type Bus string

const (
	SessionBus Bus = "session"
	SystemBus  Bus = "system"
)

// DBusTransport broadcasts names as D-Bus signals. Subscriptions are match
// rules filtered on the first argument, so the daemon only routes names this
// process observes.
type DBusTransport struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	deliver func(name string)
	done    chan struct{}
}

// DialDBus returns a Dialer for the given bus
func DialDBus(bus Bus) Dialer {
	return func(deliver func(name string)) (Transport, error) {
		var (
			conn *dbus.Conn
			err  error
		)
		switch bus {
		case SystemBus:
			conn, err = dbus.ConnectSystemBus()
		case SessionBus, "":
			conn, err = dbus.ConnectSessionBus()
		default:
			return nil, fmt.Errorf("unknown signal bus %q (use session or system)", bus)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s bus: %w", bus, err)
		}

		t := &DBusTransport{
			conn:    conn,
			signals: make(chan *dbus.Signal, queueSize),
			deliver: deliver,
			done:    make(chan struct{}),
		}
		conn.Signal(t.signals)
		go t.run()

		logger.WithComponent("signal").Debug().
			Str("bus", string(bus)).
			Strs("names", conn.Names()).
			Msg("Connected to D-Bus")

		return t, nil
	}
}

func matchOptions(name string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(dbusPath),
		dbus.WithMatchInterface(dbusInterface),
		dbus.WithMatchMember(dbusMember),
		dbus.WithMatchArg(0, name),
	}
}

func (t *DBusTransport) Post(name string) error {
	return t.conn.Emit(dbusPath, dbusInterface+"."+dbusMember, name)
}

func (t *DBusTransport) Subscribe(name string) error {
	return t.conn.AddMatchSignal(matchOptions(name)...)
}

func (t *DBusTransport) Unsubscribe(name string) error {
	return t.conn.RemoveMatchSignal(matchOptions(name)...)
}

// Close closes the bus connection, which also closes the signal channel
func (t *DBusTransport) Close() error {
	err := t.conn.Close()
	<-t.done
	return err
}

func (t *DBusTransport) run() {
	defer close(t.done)

	for sig := range t.signals {
		if sig.Name != dbusInterface+"."+dbusMember || len(sig.Body) == 0 {
			continue
		}
		name, ok := sig.Body[0].(string)
		if !ok {
			continue
		}
		t.deliver(name)
	}
}
