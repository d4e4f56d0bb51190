package session

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/nettest"
	"golang.org/x/sync/errgroup"

	"github.com/ooni/minikcp/internal/addrcodec"
	"github.com/ooni/minikcp/internal/engine"
	"github.com/ooni/minikcp/internal/eventloop"
	"github.com/ooni/minikcp/internal/model"
	"github.com/ooni/minikcp/pkg/config"
)

// openLoopback opens a low latency session bound to an ephemeral port of ip.
func openLoopback(t *testing.T, cfg *config.Config, family Family, ip string) (*Session, Address) {
	sess, err := Open(cfg, family, 7)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sess.Close() })
	if err := sess.Bind(Address{Family: family, IP: ip}, 0); err != nil {
		t.Fatal(err)
	}
	if err := sess.SetNoDelay(DefaultNoDelay()); err != nil {
		t.Fatal(err)
	}
	if err := sess.SetMTU(DefaultMTU); err != nil {
		t.Fatal(err)
	}
	local, err := sess.LocalAddress()
	if err != nil {
		t.Fatal(err)
	}
	return sess, local
}

func testRoundTrip(t *testing.T, family Family, ip string) {
	loop := eventloop.New(model.NewTestLogger())
	t.Cleanup(loop.Stop)
	alloc := engine.NewCountingAllocator()
	cfg := config.NewConfig(
		config.WithLoop(loop),
		config.WithLogger(model.NewTestLogger()),
		config.WithAllocator(alloc),
	)

	a, addrA := openLoopback(t, cfg, family, ip)
	b, addrB := openLoopback(t, cfg, family, ip)

	read, err := b.Recv(1400)
	if err != nil {
		t.Fatal(err)
	}
	write, err := a.SendTo([]byte("ping"), addrB)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got Datagram
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := write.Await(gctx)
		return err
	})
	g.Go(func() (err error) {
		got, err = read.Await(gctx)
		return
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	expect := Datagram{Data: []byte("ping"), Addr: addrA}
	if diff := cmp.Diff(expect, got); diff != "" {
		t.Fatal(diff)
	}

	// b learned a as its peer
	reply, err := b.Send([]byte("pong"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reply.Await(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Run("IPv4", func(t *testing.T) {
		testRoundTrip(t, FamilyIPv4, "127.0.0.1")
	})

	t.Run("IPv6", func(t *testing.T) {
		if !nettest.SupportsIPv6() {
			t.Skip("IPv6 not supported")
		}
		testRoundTrip(t, FamilyIPv6, "::1")
	})
}

func TestConnectedRoundTrip(t *testing.T) {
	loop := eventloop.New(model.NewTestLogger())
	t.Cleanup(loop.Stop)
	cfg := config.NewConfig(config.WithLoop(loop), config.WithLogger(model.NewTestLogger()))

	a, addrA := openLoopback(t, cfg, FamilyIPv4, "127.0.0.1")
	b, addrB := openLoopback(t, cfg, FamilyIPv4, "127.0.0.1")
	if err := a.Connect(addrB); err != nil {
		t.Fatal(err)
	}
	remote, err := a.RemoteAddress()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(addrB, remote); diff != "" {
		t.Fatal(diff)
	}

	read, err := b.Recv(0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := read.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "hello" || got.Addr != addrA {
		t.Fatal("unexpected datagram", got)
	}
}

func TestHostRelease(t *testing.T) {
	loop := eventloop.New(model.NewTestLogger())
	t.Cleanup(loop.Stop)
	cfg := config.NewConfig(config.WithLoop(loop), config.WithLogger(model.NewTestLogger()))

	st := openAndDrop(t, cfg)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		var frees int
		if err := loop.Do(func() { frees = st.frees }); err != nil {
			t.Fatal(err)
		}
		if frees == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("the session was not freed after the host released it")
}

// openAndDrop opens a session and returns its state without keeping the handle.
func openAndDrop(t *testing.T, cfg *config.Config) *state {
	sess, err := Open(cfg, FamilyIPv4, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Bind(addrcodec.Address{Family: FamilyIPv4, IP: "127.0.0.1"}, 0); err != nil {
		t.Fatal(err)
	}
	return sess.st
}
