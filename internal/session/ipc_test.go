package session

import (
	"context"
	"testing"

	"github.com/rbright/parley/internal/ipc"
	"github.com/stretchr/testify/require"
)

func TestHandleStatusAndUnknownCommand(t *testing.T) {
	ctrl := NewController(nil, foundGateway(), nil, nil)

	status := ctrl.Handle(context.Background(), ipc.Request{Command: "status"})
	require.True(t, status.OK)
	require.Equal(t, string(SurfaceLookup), status.State)
	require.Equal(t, statusReady, status.Message)

	unknown := ctrl.Handle(context.Background(), ipc.Request{Command: "definitely-unknown"})
	require.False(t, unknown.OK)
	require.Contains(t, unknown.Error, "unknown command")
}

func TestHandleListenAndStopStateGuards(t *testing.T) {
	ctrl := NewController(nil, foundGateway(), nil, nil)

	listen := ctrl.Handle(context.Background(), ipc.Request{Command: "listen"})
	require.False(t, listen.OK)
	require.Contains(t, listen.Error, "cannot listen from state lookup")

	stop := ctrl.Handle(context.Background(), ipc.Request{Command: "stop"})
	require.False(t, stop.OK)
	require.Contains(t, stop.Error, "cannot stop from state lookup")

	toggle := ctrl.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.False(t, toggle.OK)
}

func TestHandleDrivesVoiceTurn(t *testing.T) {
	listener := &fakeListener{available: true}
	h := newHarness(t, foundGateway(), listener)
	locate(t, h, SurfaceVoiceStart)

	listen := h.ctrl.Handle(context.Background(), ipc.Request{Command: "listen"})
	require.True(t, listen.OK)
	require.Equal(t, "listen requested", listen.Message)
	waitForView(t, h.ctrl, func(v View) bool { return v.Status == statusListening })

	toggle := h.ctrl.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.True(t, toggle.OK)
	require.Equal(t, string(SurfaceVoiceStop), toggle.State)
	waitForView(t, h.ctrl, func(View) bool { return listener.stops.Load() == 1 })

	stop := h.ctrl.Handle(context.Background(), ipc.Request{Command: "stop"})
	require.True(t, stop.OK)
}
