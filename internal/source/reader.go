// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/media/nal"
	"github.com/ManuGH/zmlive/internal/metrics"
)

// errNoWriter marks an open that hit end-of-stream before any byte arrived,
// which is what a FIFO without a connected writer looks like.
var errNoWriter = errors.New("fifo has no writer")

func (r *Router) runReader(ctx context.Context, src *Source, w *Watch) {
	defer w.Close()
	id, path := src.info.ID, src.info.FifoPath
	logger := r.logger.With().Uint32(log.FieldMonitorID, id).Str(log.FieldFifoPath, path).Logger()

	failures := 0
	set := func(state ReaderState, err error) {
		h := ReaderHealth{State: state, OpenFailures: failures, Since: time.Now()}
		if err != nil {
			h.LastError = err.Error()
		}
		w.Set(h)
	}

	for {
		set(Opening, nil)
		f, err := openFifo(path)
		if err == nil {
			var got bool
			got, err = r.readLoop(ctx, src, f, func() { set(Reading, nil) })
			switch {
			case ctx.Err() != nil:
				set(Stopped, nil)
				logger.Info().Str(log.FieldEvent, "source.reader_stopped").Msg("reader stopped")
				return
			case got:
				set(Stopped, err)
				ev := logger.Info()
				if err != nil {
					ev = logger.Warn().Err(err)
				}
				ev.Str(log.FieldEvent, "source.reader_stopped").Msg("fifo stream ended")
				return
			}
			if err == nil {
				err = errNoWriter
			}
		} else if !transientOpenError(err) {
			set(Stopped, err)
			logger.Error().Err(err).Str(log.FieldEvent, "source.open_failed").Msg("cannot open fifo")
			return
		}

		failures++
		src.openFailures.Add(1)
		metrics.IncFIFOOpenFailure(id)
		if failures > r.cfg.MaxOpenRetries {
			err = fmt.Errorf("%w after %d attempts: %v", ErrFifoOpenExhausted, failures, err)
			set(Stopped, err)
			logger.Error().Err(err).Str(log.FieldEvent, "source.open_exhausted").Msg("giving up on fifo")
			return
		}
		set(Retrying, err)
		logger.Debug().Err(err).Int("attempt", failures).Str(log.FieldEvent, "source.open_retry").Msg("fifo not ready")

		t := time.NewTimer(r.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			set(Stopped, nil)
			return
		case <-t.C:
		}
	}
}

// readLoop pumps f until end-of-stream, a read error or cancellation. It
// reports whether any byte was read. onData runs once, on the first bytes.
func (r *Router) readLoop(ctx context.Context, src *Source, f *os.File, onData func()) (bool, error) {
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer func() {
		if stop() {
			_ = f.Close()
		}
	}()

	var sp nal.Splitter
	buf := make([]byte, r.cfg.ReadBufferSize)
	got := false
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if !got {
				got = true
				onData()
			}
			ts := r.timestampUs()
			sp.Write(buf[:n], func(u []byte) { r.publish(src, u, ts) })
		}
		if err != nil {
			ts := r.timestampUs()
			sp.Flush(func(u []byte) { r.publish(src, u, ts) })
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return got, nil
			}
			return got, fmt.Errorf("read fifo: %w", err)
		}
	}
}

func (r *Router) publish(src *Source, u []byte, ts int64) {
	c := src.info.Codec
	kind := nal.Classify(c, u)
	p := Packet{
		MonitorID:   src.info.ID,
		Codec:       c,
		Data:        u,
		TimestampUs: ts,
		Keyframe:    kind == nal.KindVideoKey,
		NalType:     nal.Type(c, u),
		Kind:        kind,
		Sequence:    src.seq.Add(1) - 1,
	}
	src.packets.Add(1)
	src.bytes.Add(uint64(len(u)))
	if p.Keyframe {
		src.keyframes.Add(1)
	}
	metrics.ObservePacket(p.MonitorID, kind.String(), len(u))
	src.video.Publish(p)
}
