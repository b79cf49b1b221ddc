package download

import (
	"context"
	"io"
	"sync"
)

// Progress is a snapshot of one transfer. BytesExpected is 0 when the
// server did not announce a length.
type Progress struct {
	VideoID       string `json:"videoId"`
	BytesWritten  int64  `json:"bytesWritten"`
	BytesExpected int64  `json:"bytesExpected"`
	Done          bool   `json:"done"`
}

// Fraction returns completion in [0,1], or 0 when the size is unknown.
func (p Progress) Fraction() float64 {
	if p.BytesExpected <= 0 {
		return 0
	}
	f := float64(p.BytesWritten) / float64(p.BytesExpected)
	if f > 1 {
		return 1
	}
	return f
}

// reporter hands progress from the transfer to a single consumer through a
// one-slot mailbox. A newer snapshot replaces an unread older one, so the
// transfer never waits on a slow consumer.
type reporter struct {
	mailbox chan Progress
	done    chan struct{}
	once    sync.Once
}

func newReporter(sink func(Progress)) *reporter {
	r := &reporter{
		mailbox: make(chan Progress, 1),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for p := range r.mailbox {
			if sink != nil {
				sink(p)
			}
		}
	}()
	return r
}

func (r *reporter) publish(p Progress) {
	for {
		select {
		case r.mailbox <- p:
			return
		default:
		}
		select {
		case <-r.mailbox:
		default:
		}
	}
}

// finish delivers last and waits until the consumer has seen it.
func (r *reporter) finish(last Progress) {
	r.once.Do(func() {
		r.publish(last)
		close(r.mailbox)
		<-r.done
	})
}

// progressWriter publishes a snapshot after every chunk written through it.
type progressWriter struct {
	videoID  string
	written  int64
	expected int64
	out      *reporter
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	p.out.publish(p.snapshot(false))
	return len(b), nil
}

func (p *progressWriter) snapshot(done bool) Progress {
	return Progress{VideoID: p.videoID, BytesWritten: p.written, BytesExpected: p.expected, Done: done}
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
		return r.r.Read(p)
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, &contextReader{ctx: ctx, r: src})
}
