//go:build linux

package transport

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	up       map[string]bool
	setUpErr error
}

func (a *fakeAdmin) IsUp(name string) (bool, error) { return a.up[name], nil }
func (a *fakeAdmin) SetUp(name string) error {
	if a.setUpErr != nil {
		return a.setUpErr
	}
	if a.up == nil {
		a.up = map[string]bool{}
	}
	a.up[name] = true
	return nil
}
func (a *fakeAdmin) SetDown(name string) error {
	if a.up != nil {
		delete(a.up, name)
	}
	return nil
}

func TestIfaceWorker_BringsInterfaceAdministrativelyUp(t *testing.T) {
	t.Parallel()
	admin := &fakeAdmin{up: map[string]bool{}}
	conn := &fakeConn{}
	w := newIfaceWorker(slog.Default(), "can0", admin)
	w.opener = func(string) (rawConn, error) { return conn, nil }

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	defer func() { cancel(); w.Stop() }()

	require.Eventually(t, func() bool { return admin.up["can0"] }, time.Second, 5*time.Millisecond)
}
