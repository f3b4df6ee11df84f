package session

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"sockproxyd/internal/metrics"
	"sockproxyd/internal/notify"
	"sockproxyd/util"
)

type fakeRegistry struct{}

func (fakeRegistry) Lookup(id string) (notify.SessionRef, bool) { return nil, false }

func newRelayDeps(dial func(ctx context.Context, network, address, via string) (net.Conn, error)) *RelayDeps {
	return &RelayDeps{
		Deps:    &Deps{Dial: dial},
		Notify:  notify.NewQueue(fakeRegistry{}),
		Metrics: metrics.New(),
		Logger:  util.NewLoggerTo(0, io.Discard),
	}
}

func waitDone(t *testing.T, s *Session, timeout time.Duration) {
	select {
	case <-s.Done():
	case <-time.After(timeout):
		t.Fatal("session did not reach Done in time")
	}
}

func TestRun_RelaysBytesBothDirections(t *testing.T) {
	clientServer, clientPeer := net.Pipe()
	remoteServer, remotePeer := net.Pipe()

	s := New("1", false, clientServer)
	s.EnterEcho(remoteServer, "10.0.0.1:9001")

	deps := newRelayDeps(nil)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), deps, "")
		close(done)
	}()

	go clientPeer.Write([]byte("hello"))
	buf := make([]byte, 5)
	if _, err := io.ReadFull(remotePeer, buf); err != nil {
		t.Fatalf("remote did not receive relayed bytes: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("remote got %q, want %q", buf, "hello")
	}

	go remotePeer.Write([]byte("world"))
	buf2 := make([]byte, 5)
	if _, err := io.ReadFull(clientPeer, buf2); err != nil {
		t.Fatalf("client did not receive relayed bytes: %v", err)
	}
	if string(buf2) != "world" {
		t.Errorf("client got %q, want %q", buf2, "world")
	}

	clientPeer.Close()
	remotePeer.Close()
	waitDone(t, s, time.Second)
	<-done
}

func TestRun_QueuesNotificationOnRemoteData(t *testing.T) {
	clientServer, clientPeer := net.Pipe()
	remoteServer, remotePeer := net.Pipe()
	defer clientPeer.Close()

	s := New("1", false, clientServer)
	s.SetBinding(Binding{Device: 7, Service: "urn:x:serviceId:X1", Action: "Handle"})
	s.EnterEcho(remoteServer, "10.0.0.1:9001")

	deps := newRelayDeps(nil)

	go s.Run(context.Background(), deps, "")

	// net.Pipe writes block until the other end reads: drain the client
	// side so the relay's write to the client completes, after which the
	// notification is queued.
	go io.ReadFull(clientPeer, make([]byte, 4)) //nolint:errcheck

	remotePeer.Write([]byte("data"))

	deadline := time.Now().Add(time.Second)
	for deps.Notify.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if deps.Notify.Len() != 1 {
		t.Fatalf("Notify.Len() = %d, want 1 after remote data arrived", deps.Notify.Len())
	}

	remotePeer.Close()
	waitDone(t, s, time.Second)
}

func TestRun_ClientCloseEndsSessionSymmetrically(t *testing.T) {
	clientServer, clientPeer := net.Pipe()
	remoteServer, remotePeer := net.Pipe()
	defer remotePeer.Close()

	s := New("1", false, clientServer)
	s.EnterEcho(remoteServer, "10.0.0.1:9001")

	deps := newRelayDeps(nil)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), deps, "")
		close(done)
	}()

	clientPeer.Close()

	waitDone(t, s, time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the client leg closed")
	}
	if s.StopReason() == nil {
		t.Error("StopReason() = nil, want a reason recorded for the closed peer leg")
	}
}

func TestRun_ImplicitConnFailureStopsBeforeRelay(t *testing.T) {
	clientServer, clientPeer := net.Pipe()
	defer clientPeer.Close()

	s := New("L1", true, clientServer)
	deps := newRelayDeps(func(ctx context.Context, network, address, via string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), deps, "CONN 10.0.0.1:9001")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the implicit CONN failed")
	}
	if s.StopReason() == nil {
		t.Error("StopReason() = nil, want a dial error recorded")
	}
}

func TestCheckIdle_StopsOnExpiredPeerTimeout(t *testing.T) {
	s, client := newTestSession()
	defer client.Close()
	s.SetPeerTimeoutMS(1)

	time.Sleep(5 * time.Millisecond)
	s.CheckIdle(time.Now())

	select {
	case <-s.Done():
	default:
		t.Error("CheckIdle should have stopped the session once peer_timeout_ms elapsed")
	}
}

func TestCheckIdle_LeavesLiveSessionAlone(t *testing.T) {
	s, client := newTestSession()
	defer client.Close()
	s.SetPeerTimeoutMS(60000)

	s.CheckIdle(time.Now())

	select {
	case <-s.Done():
		t.Error("CheckIdle stopped a session well within its timeout")
	default:
	}
}
