package chunkstore

import "context"

// GetSync is Get for callers that would rather block. It gives up waiting
// when ctx ends; the operation itself may still complete later.
func (s *Store) GetSync(ctx context.Context, index int, opts *ReadOptions) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	s.Get(ctx, index, opts, func(data []byte, err error) {
		ch <- result{data, err}
	})
	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PutSync is the blocking form of Put.
func (s *Store) PutSync(ctx context.Context, index int, data []byte) error {
	ch := make(chan error, 1)
	s.Put(ctx, index, data, func(err error) { ch <- err })
	return wait(ctx, ch)
}

// CloseSync is the blocking form of Close.
func (s *Store) CloseSync(ctx context.Context) error {
	ch := make(chan error, 1)
	s.Close(func(err error) { ch <- err })
	return wait(ctx, ch)
}

// DestroySync is the blocking form of Destroy.
func (s *Store) DestroySync(ctx context.Context) error {
	ch := make(chan error, 1)
	s.Destroy(func(err error) { ch <- err })
	return wait(ctx, ch)
}

func wait(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
