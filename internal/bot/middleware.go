package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "remindbot/pkg/logx"
)

// HandlerFunc handles one routed request.
type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// slowRequest promotes the request log line from debug to info.
const slowRequest = 750 * time.Millisecond

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := range m {
		h = m[len(m)-1-i](h)
	}
	return h
}

// MWTimeout bounds a handler together with the replies it sends.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error for the worker.
func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.Logger.Error("handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("handler %s panicked: %v", req.Command, r)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog writes one line per request with its outcome.
func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			took := time.Since(began)

			log := req.Logger.With(logx.Duration("dur", took), logx.Int("args", len(req.Args)))
			switch {
			case err != nil:
				log.Warn("request failed", logx.Err(err))
			case took >= slowRequest:
				log.Info("slow request")
			default:
				log.Debug("request handled")
			}
			return err
		}
	}
}
