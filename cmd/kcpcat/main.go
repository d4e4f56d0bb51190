// Command kcpcat copies stdin to a KCP session and the session to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/pborman/getopt/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ooni/minikcp/internal/addrcodec"
	"github.com/ooni/minikcp/internal/eventloop"
	"github.com/ooni/minikcp/pkg/config"
	"github.com/ooni/minikcp/pkg/session"
)

var startTime = time.Now()

func printUsage() {
	fmt.Println("usage: kcpcat [-l addr] [-c addr] [options]")
	getopt.Usage()
}

func main() {
	os.Exit(kcpcatMain())
}

// kcpcatMain runs the command and returns its exit code.
func kcpcatMain() int {
	optListen := getopt.StringLong("listen", 'l', "", "Local address to bind to")
	optConnect := getopt.StringLong("connect", 'c', "", "Remote address to connect to")
	optConv := getopt.Uint32Long("conv", 'k', 1, "Conversation ID")
	optMTU := getopt.IntLong("mtu", 'm', session.DefaultMTU, "Maximum datagram size")
	optVerbosity := getopt.Uint16Long("verbosity", 'v', uint16(3), "Verbosity level (1 to 5, 1 is lowest)")
	helpFlag := getopt.Bool('h', "Display help")

	getopt.Parse()

	if *helpFlag || (*optListen == "" && *optConnect == "") {
		printUsage()
		return 0
	}

	verbosityLevel := log.InfoLevel
	switch *optVerbosity {
	case uint16(1):
		verbosityLevel = log.FatalLevel
	case uint16(2):
		verbosityLevel = log.ErrorLevel
	case uint16(3):
		verbosityLevel = log.WarnLevel
	case uint16(4):
		verbosityLevel = log.InfoLevel
	default:
		verbosityLevel = log.DebugLevel
	}
	logger := &log.Logger{Level: verbosityLevel, Handler: &logHandler{Writer: os.Stderr}}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *optListen, *optConnect, *optConv, *optMTU); err != nil {
		logger.WithError(err).Error("kcpcat")
		return 1
	}
	return 0
}

// familyOf returns the family shared by the given addresses.
func familyOf(addrs ...addrcodec.Address) addrcodec.Family {
	family := addrcodec.FamilyUnspec
	for _, addr := range addrs {
		if addr.IsZero() {
			continue
		}
		if family != addrcodec.FamilyUnspec && family != addr.Family {
			return addrcodec.FamilyUnspec
		}
		family = addr.Family
	}
	return family
}

func parseOptional(s string) (addrcodec.Address, error) {
	if s == "" {
		return addrcodec.Address{}, nil
	}
	return addrcodec.Parse(s)
}

func run(ctx context.Context, logger *log.Logger, listen, connect string, conv uint32, mtu int) error {
	local, err := parseOptional(listen)
	if err != nil {
		return err
	}
	remote, err := parseOptional(connect)
	if err != nil {
		return err
	}

	loop := eventloop.New(logger)
	defer loop.Stop()
	cfg := config.NewConfig(config.WithLogger(logger), config.WithLoop(loop))

	sess, err := session.Open(cfg, familyOf(local, remote), conv)
	if err != nil {
		return err
	}
	defer sess.Close()

	if !local.IsZero() {
		if err := sess.Bind(local, session.ReuseAddr); err != nil {
			return err
		}
	}
	if !remote.IsZero() {
		if err := sess.Connect(remote); err != nil {
			return err
		}
	}
	if err := sess.SetMTU(mtu); err != nil {
		return err
	}
	if err := sess.SetWindowSize(session.DefaultSendWindow, session.DefaultRecvWindow); err != nil {
		return err
	}
	if err := sess.SetNoDelay(session.DefaultNoDelay()); err != nil {
		return err
	}
	if addr, err := sess.LocalAddress(); err == nil {
		logger.Infof("kcpcat: local address %s", addr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pumpStdin(gctx, logger, sess, os.Stdin, mtu)
	})
	g.Go(func() error {
		return pumpStdout(gctx, sess, os.Stdout)
	})
	g.Go(func() error {
		<-gctx.Done()
		return sess.Close()
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pumpStdin sends chunks of r until EOF.
func pumpStdin(ctx context.Context, logger *log.Logger, sess *session.Session, r io.Reader, chunk int) error {
	buf := make([]byte, chunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			fut, serr := sess.Send(buf[:n])
			switch {
			case errors.Is(serr, session.ErrNoPeer):
				logger.Warn("kcpcat: no peer yet, dropping input")
			case serr != nil:
				return serr
			default:
				if _, err := fut.Await(ctx); err != nil {
					return err
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// pumpStdout writes the received packets to w until the session is closed.
func pumpStdout(ctx context.Context, sess *session.Session, w io.Writer) error {
	for {
		fut, err := sess.Recv(0)
		if errors.Is(err, session.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		d, err := fut.Await(ctx)
		if err != nil {
			return err
		}
		if d.IsEmpty() {
			return nil
		}
		if _, err := w.Write(d.Data); err != nil {
			return err
		}
	}
}

type logHandler struct {
	io.Writer
}

func (h *logHandler) HandleLog(e *log.Entry) (err error) {
	var s string
	if e.Level == log.DebugLevel {
		s = e.Message
	} else if e.Level == log.ErrorLevel {
		s = fmt.Sprintf("[%14.6f] <!err> %s", time.Since(startTime).Seconds(), e.Message)
	} else {
		s = fmt.Sprintf("[%14.6f] <%s> %s", time.Since(startTime).Seconds(), e.Level, e.Message)
	}
	if len(e.Fields) > 0 {
		s += fmt.Sprintf(": %+v", e.Fields)
	}
	s += "\n"
	_, err = h.Writer.Write([]byte(s))
	return
}
