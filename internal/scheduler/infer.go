package scheduler

import (
	"context"
	"io"
	"strings"
	"time"

	"inferd/internal/registry"
	"inferd/internal/router"
	"inferd/pkg/types"
)

// Submit resolves the backend for req and grants a dispatch slot. Remote
// backends bypass admission entirely; local ones go through the ledger,
// eviction and the wait queue. ctx bounds the admission wait.
func (s *Scheduler) Submit(ctx context.Context, backend string) (*Grant, error) {
	desc, err := s.reg.Resolve(backend)
	if err != nil {
		return nil, err
	}
	if desc.Kind == registry.KindRemote {
		return s.remoteGrant(desc), nil
	}
	return s.acquire(ctx, desc)
}

// countingWriter tracks whether any response bytes reached the caller, which
// gates the single transport retry: a partially written stream is never
// replayed.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Infer serves one inference request end to end: admission, dispatch, token
// streaming. The caller timeout applies independently to the admission wait
// and to the dispatched call.
func (s *Scheduler) Infer(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error {
	if strings.TrimSpace(req.Model) == "" {
		return registry.ErrUnknownBackend("(unspecified)")
	}
	timeout := s.cfg.DefaultTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	admCtx, cancelAdm := context.WithTimeout(ctx, timeout)
	grant, err := s.Submit(admCtx, req.Model)
	cancelAdm()
	if err != nil {
		return err
	}
	defer grant.Release()

	dispCtx, cancelDisp := context.WithTimeout(ctx, timeout)
	defer cancelDisp()
	cw := &countingWriter{w: w}
	err = s.router.Dispatch(dispCtx, grant.Target(), req, cw, flush)
	if err == nil {
		return nil
	}
	if grant.Crashed() {
		return backendCrashedError{backend: req.Model}
	}
	if !router.IsBackendUnreachable(err) {
		return err
	}
	// One automatic retry against the same instance, and only if no tokens
	// have been streamed yet.
	if cw.n > 0 {
		return err
	}
	s.log.Warn().Str("backend", req.Model).Err(err).Msg("dispatch failed, retrying once")
	err = s.router.Dispatch(dispCtx, grant.Target(), req, cw, flush)
	if err != nil && grant.Crashed() {
		return backendCrashedError{backend: req.Model}
	}
	return err
}
