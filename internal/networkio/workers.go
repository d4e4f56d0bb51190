package networkio

import (
	"fmt"
)

// moveUpWorker reads one datagram for each armed reception request
// and posts it to the loop.
func (s *UDPSocket) moveUpWorker() {
	workerName := fmt.Sprintf("%s: moveUpWorker", serviceName)

	defer s.manager.OnWorkerDone(workerName)

	s.logger.Debugf("%s: started", workerName)

	for {
		var req recvRequest
		select {
		case req = <-s.recvRequests:
		case <-s.manager.ShouldShutdown():
			return
		}

		buf := req.alloc(req.size)

		// POSSIBLY BLOCK on the connection to read a new datagram
		n, _, flags, addr, err := s.conn.ReadMsgUDPAddrPort(buf, nil)

		d := Datagram{Buf: buf, N: n, Addr: addr}
		if isTruncated(flags) {
			d.Flags |= RecvPartial
		}
		if perr := s.loop.Post(func() { s.onRecv(d, err) }); perr != nil {
			s.logger.Warnf("%s: %s", workerName, perr.Error())
			return
		}
		if err != nil && s.manager.IsShuttingDown() {
			return
		}
	}
}

// moveDownWorker writes the datagrams queued by Send.
func (s *UDPSocket) moveDownWorker() {
	workerName := fmt.Sprintf("%s: moveDownWorker", serviceName)

	defer s.manager.OnWorkerDone(workerName)

	s.logger.Debugf("%s: started", workerName)

	for {
		// While this channel receive could possibly block, Send never
		// blocks inserting into the channel: it fails when it is full.
		select {
		case req := <-s.sendQueue:
			var err error
			// POSSIBLY BLOCK on the connection to write the datagram
			if ap, ok := req.addr.Get(); ok {
				_, err = s.conn.WriteToUDPAddrPort(req.buf, ap)
			} else {
				_, err = s.conn.Write(req.buf)
			}
			if err != nil {
				s.logger.Infof("%s: write: %s", workerName, err.Error())
				err = newError("send", unwrapOpError(err))
			}
			if perr := s.loop.Post(func() { req.cb(err) }); perr != nil {
				s.logger.Warnf("%s: %s", workerName, perr.Error())
				return
			}

		case <-s.manager.ShouldShutdown():
			return
		}
	}
}
