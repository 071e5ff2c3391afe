// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/bsa/amc"
	"github.com/go-lpc/bsa/entry"
	"github.com/go-lpc/bsa/proc"
	"github.com/go-lpc/bsa/remote"
)

// server drives the BSA acquisition of a carrier on behalf of the
// TDAQ run control.
type server struct {
	mu sync.Mutex

	msg  *log.Logger
	open func() (remote.Transport, error)
	opts []amc.Option
	freq time.Duration

	tr    remote.Transport
	dir   *amc.Directory
	proc  *proc.Processor
	sinks []*frameSink

	running bool
	n       int // number of frames produced since start
	data    chan []byte
}

func newServer(open func() (remote.Transport, error), freq time.Duration, opts ...amc.Option) *server {
	return &server{
		msg:  log.New(os.Stdout, "bsa-srv: ", 0),
		open: open,
		opts: opts,
		freq: freq,
		data: make(chan []byte, 4096),
	}
}

func (srv *server) configure() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	srv.close()

	tr, err := srv.open()
	if err != nil {
		return fmt.Errorf("could not open transport: %w", err)
	}
	srv.tr = tr

	dir, err := amc.New(tr, srv.opts...)
	if err != nil {
		return fmt.Errorf("could not create buffer directory: %w", err)
	}
	srv.dir = dir

	srv.sinks = make([]*frameSink, dir.NumArrays())
	for i := range srv.sinks {
		srv.sinks[i] = newFrameSink(i, entry.MaxChannels)
	}
	return nil
}

func (srv *server) initialize() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dir == nil {
		return fmt.Errorf("bsa-srv: not configured")
	}

	err := srv.dir.Initialize()
	if err != nil {
		return fmt.Errorf("could not initialize buffers: %w", err)
	}

	srv.proc, err = proc.New(srv.dir, proc.WithLogger(srv.msg))
	if err != nil {
		return fmt.Errorf("could not create processor: %w", err)
	}
	return nil
}

func (srv *server) start() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.proc == nil {
		return fmt.Errorf("bsa-srv: not initialized")
	}
	srv.running = true
	srv.n = 0
	return nil
}

func (srv *server) stop() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	srv.running = false
	return srv.n
}

// poll runs one polling cycle and queues the frames of the new entries.
func (srv *server) poll(ctx context.Context) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if !srv.running {
		return nil
	}

	mask := srv.proc.Pending()
	for i, sink := range srv.sinks {
		if mask&(1<<i) == 0 {
			continue
		}
		srv.proc.Update(sink)
		for _, frame := range sink.flush() {
			select {
			case <-ctx.Done():
				return nil
			case srv.data <- frame:
				srv.n++
			default:
				srv.msg.Printf("output queue full: dropping frame of array %d", i)
			}
		}
	}
	return nil
}

func (srv *server) close() {
	srv.running = false
	srv.proc = nil
	srv.dir = nil
	srv.sinks = nil
	if c, ok := srv.tr.(io.Closer); ok {
		err := c.Close()
		if err != nil {
			srv.msg.Printf("could not close transport: %+v", err)
		}
	}
	srv.tr = nil
}

func (srv *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := srv.configure()
	if err != nil {
		ctx.Msg.Errorf("could not configure: %+v", err)
		return err
	}
	return nil
}

func (srv *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.initialize()
	if err != nil {
		ctx.Msg.Errorf("could not initialize: %+v", err)
		return err
	}
	return nil
}

func (srv *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.close()
	return nil
}

func (srv *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return srv.start()
}

func (srv *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n := srv.stop()
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	return nil
}

func (srv *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.close()
	return nil
}

func (srv *server) output(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

func (srv *server) run(ctx tdaq.Context) error {
	tick := time.NewTicker(srv.freq)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tick.C:
			err := srv.poll(ctx.Ctx)
			if err != nil {
				ctx.Msg.Errorf("could not poll buffers: %+v", err)
				return err
			}
		}
	}
}

// frameSink encodes each entry of one array into a TDAQ frame body.
//
// A frame holds:
//   - array index (u32)
//   - timestamp seconds and nanoseconds (u32, u32)
//   - pulse id (u64)
//   - number of channels (u32)
//   - per channel: n (u32), mean (f64), rms2 (f64)
type frameSink struct {
	array int
	sec   uint32
	nsec  uint32

	pending bool
	pulse   uint64
	chans   []*frameChannel
	sinks   []proc.ChannelSink

	buf    bytes.Buffer
	frames [][]byte
}

type frameChannel struct {
	n    uint32
	mean float64
	rms2 float64
}

func (ch *frameChannel) Kind() proc.Kind { return proc.Int32 }
func (ch *frameChannel) Append(n uint32, mean, rms2 float64) {
	ch.n = n
	ch.mean = mean
	ch.rms2 = rms2
}

func newFrameSink(i, nchans int) *frameSink {
	sink := &frameSink{
		array: i,
		chans: make([]*frameChannel, nchans),
		sinks: make([]proc.ChannelSink, nchans),
	}
	for k := range sink.chans {
		ch := new(frameChannel)
		sink.chans[k] = ch
		sink.sinks[k] = ch
	}
	return sink
}

func (sink *frameSink) Array() int { return sink.array }

func (sink *frameSink) Reset(sec, nsec uint32) {
	sink.encode()
	sink.sec = sec
	sink.nsec = nsec
}

func (sink *frameSink) Set(sec, nsec uint32) {
	sink.encode()
	sink.sec = sec
	sink.nsec = nsec
}

func (sink *frameSink) Append(id uint64) {
	sink.encode()
	sink.pulse = id
	sink.pending = true
}

func (sink *frameSink) Channels() []proc.ChannelSink { return sink.sinks }

func (sink *frameSink) encode() {
	if !sink.pending {
		return
	}
	sink.pending = false

	sink.buf.Reset()
	enc := tdaq.NewEncoder(&sink.buf)
	enc.WriteU32(uint32(sink.array))
	enc.WriteU32(sink.sec)
	enc.WriteU32(sink.nsec)
	enc.WriteU64(sink.pulse)
	enc.WriteU32(uint32(len(sink.chans)))
	for _, ch := range sink.chans {
		enc.WriteU32(ch.n)
		enc.WriteF64(ch.mean)
		enc.WriteF64(ch.rms2)
	}
	sink.frames = append(sink.frames, append([]byte(nil), sink.buf.Bytes()...))
}

// flush returns the frames encoded since the last call to flush.
func (sink *frameSink) flush() [][]byte {
	sink.encode()
	frames := sink.frames
	sink.frames = nil
	return frames
}

var (
	_ proc.ArraySink   = (*frameSink)(nil)
	_ proc.ChannelSink = (*frameChannel)(nil)
)
