//go:build linux

package keyring

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"

	"ccwatch/internal/constants"
	apperrors "ccwatch/internal/errors"
)

const (
	secretsBus        = "org.freedesktop.secrets"
	secretsPath       = dbus.ObjectPath("/org/freedesktop/secrets")
	serviceIface      = "org.freedesktop.Secret.Service"
	collectionIface   = "org.freedesktop.Secret.Collection"
	itemIface         = "org.freedesktop.Secret.Item"
	promptIface       = "org.freedesktop.Secret.Prompt"
	defaultCollection = dbus.ObjectPath("/org/freedesktop/secrets/aliases/default")
	noPrompt          = dbus.ObjectPath("/")
)

var errPromptDismissed = errors.New("prompt dismissed")

// dbusSecret is the org.freedesktop.Secret.Service wire struct.
type dbusSecret struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

// secretServiceStore talks to the freedesktop Secret Service on the session
// bus. Each operation uses a private connection so prompt signal matches
// never leak between calls.
type secretServiceStore struct{}

func newPlatformStore() SecretStore { return &secretServiceStore{} }

func (s *secretServiceStore) Get(ctx context.Context, service string, allowPrompt bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.KeyringTimeout)
	defer cancel()

	conn, err := connectSession()
	if err != nil {
		return "", classifyDBus(service, err)
	}
	defer conn.Close()

	svc := conn.Object(secretsBus, secretsPath)
	session, err := openSession(ctx, svc)
	if err != nil {
		return "", classifyDBus(service, err)
	}

	unlocked, locked, err := searchItems(ctx, svc, service)
	if err != nil {
		return "", classifyDBus(service, err)
	}
	if len(unlocked) == 0 && len(locked) == 0 {
		return "", notFoundErr(service)
	}

	if len(unlocked) == 0 {
		var prompt dbus.ObjectPath
		if err := svc.CallWithContext(ctx, serviceIface+".Unlock", 0, locked).Store(&unlocked, &prompt); err != nil {
			return "", classifyDBus(service, err)
		}
		if prompt != noPrompt {
			if !allowPrompt {
				dismissPrompt(conn, prompt)
				return "", deniedErr(service, "interaction required")
			}
			if _, err := execPrompt(ctx, conn, prompt); err != nil {
				if errors.Is(err, errPromptDismissed) {
					return "", deniedErr(service, "user cancelled")
				}
				return "", classifyDBus(service, err)
			}
			unlocked, _, err = searchItems(ctx, svc, service)
			if err != nil {
				return "", classifyDBus(service, err)
			}
		}
	}
	if len(unlocked) == 0 {
		return "", deniedErr(service, "item stayed locked")
	}

	var secrets map[dbus.ObjectPath]dbusSecret
	if err := svc.CallWithContext(ctx, serviceIface+".GetSecrets", 0, unlocked[:1], session).Store(&secrets); err != nil {
		return "", classifyDBus(service, err)
	}
	for _, sec := range secrets {
		return string(sec.Value), nil
	}
	return "", notFoundErr(service)
}

func (s *secretServiceStore) Set(ctx context.Context, service, value string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.KeyringTimeout)
	defer cancel()

	conn, err := connectSession()
	if err != nil {
		return classifyDBus(service, err)
	}
	defer conn.Close()

	svc := conn.Object(secretsBus, secretsPath)
	session, err := openSession(ctx, svc)
	if err != nil {
		return classifyDBus(service, err)
	}

	props := map[string]dbus.Variant{
		"org.freedesktop.Secret.Item.Label":      dbus.MakeVariant(service),
		"org.freedesktop.Secret.Item.Attributes": dbus.MakeVariant(map[string]string{"service": service}),
	}
	sec := dbusSecret{Session: session, Value: []byte(value), ContentType: "text/plain"}

	coll := conn.Object(secretsBus, defaultCollection)
	var itemPath, prompt dbus.ObjectPath
	if err := coll.CallWithContext(ctx, collectionIface+".CreateItem", 0, props, sec, true).Store(&itemPath, &prompt); err != nil {
		return classifyDBus(service, err)
	}
	if prompt != noPrompt {
		dismissPrompt(conn, prompt)
		return deniedErr(service, "collection locked")
	}
	return nil
}

func (s *secretServiceStore) Delete(ctx context.Context, service string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.KeyringTimeout)
	defer cancel()

	conn, err := connectSession()
	if err != nil {
		return classifyDBus(service, err)
	}
	defer conn.Close()

	svc := conn.Object(secretsBus, secretsPath)
	unlocked, locked, err := searchItems(ctx, svc, service)
	if err != nil {
		return classifyDBus(service, err)
	}
	for _, path := range append(unlocked, locked...) {
		item := conn.Object(secretsBus, path)
		var prompt dbus.ObjectPath
		if err := item.CallWithContext(ctx, itemIface+".Delete", 0).Store(&prompt); err != nil {
			return classifyDBus(service, err)
		}
		if prompt != noPrompt {
			dismissPrompt(conn, prompt)
			return deniedErr(service, "deletion requires interaction")
		}
	}
	return nil
}

func (s *secretServiceStore) Preflight(ctx context.Context, service string) PreflightResult {
	ctx, cancel := context.WithTimeout(ctx, constants.PreflightTimeout)
	defer cancel()

	conn, err := connectSession()
	if err != nil {
		return PreflightFailure
	}
	defer conn.Close()

	svc := conn.Object(secretsBus, secretsPath)
	unlocked, locked, err := searchItems(ctx, svc, service)
	if err != nil {
		return PreflightFailure
	}
	if len(unlocked) == 0 && len(locked) == 0 {
		return PreflightNotFound
	}
	if len(unlocked) > 0 {
		return PreflightAllowed
	}

	// Unlock reports a prompt path when interaction would be needed; the
	// prompt is never executed here.
	var prompt dbus.ObjectPath
	if err := svc.CallWithContext(ctx, serviceIface+".Unlock", 0, locked).Store(&unlocked, &prompt); err != nil {
		return PreflightFailure
	}
	if prompt != noPrompt {
		dismissPrompt(conn, prompt)
		return PreflightInteractionRequired
	}
	return PreflightAllowed
}

func connectSession() (*dbus.Conn, error) {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, err
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func openSession(ctx context.Context, svc dbus.BusObject) (dbus.ObjectPath, error) {
	var discard dbus.Variant
	var session dbus.ObjectPath
	err := svc.CallWithContext(ctx, serviceIface+".OpenSession", 0, "plain", dbus.MakeVariant("")).Store(&discard, &session)
	return session, err
}

func searchItems(ctx context.Context, svc dbus.BusObject, service string) (unlocked, locked []dbus.ObjectPath, err error) {
	attrs := map[string]string{"service": service}
	err = svc.CallWithContext(ctx, serviceIface+".SearchItems", 0, attrs).Store(&unlocked, &locked)
	return unlocked, locked, err
}

func execPrompt(ctx context.Context, conn *dbus.Conn, path dbus.ObjectPath) (dbus.Variant, error) {
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(promptIface),
		dbus.WithMatchMember("Completed"),
	); err != nil {
		return dbus.Variant{}, err
	}
	ch := make(chan *dbus.Signal, 8)
	conn.Signal(ch)
	defer conn.RemoveSignal(ch)

	obj := conn.Object(secretsBus, path)
	if call := obj.CallWithContext(ctx, promptIface+".Prompt", 0, ""); call.Err != nil {
		return dbus.Variant{}, call.Err
	}

	for {
		select {
		case sig := <-ch:
			if sig == nil || sig.Path != path {
				continue
			}
			var dismissed bool
			var result dbus.Variant
			if len(sig.Body) >= 2 {
				dismissed, _ = sig.Body[0].(bool)
				if v, ok := sig.Body[1].(dbus.Variant); ok {
					result = v
				}
			}
			if dismissed {
				return result, errPromptDismissed
			}
			return result, nil
		case <-ctx.Done():
			dismissPrompt(conn, path)
			return dbus.Variant{}, ctx.Err()
		}
	}
}

func dismissPrompt(conn *dbus.Conn, path dbus.ObjectPath) {
	if path == noPrompt {
		return
	}
	_ = conn.Object(secretsBus, path).Call(promptIface+".Dismiss", 0).Err
}

func classifyDBus(service string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindTimeout, "secret service call timed out", err)
	}
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return storeErr(service, dbusErr.Name, err)
	}
	return storeErr(service, "dbus", err)
}
