package errors

import (
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ctx"))
	assert.NoError(t, Wrapf(nil, "id=%d", 1))

	base := stderrors.New("redis down")
	err := Wrapf(Wrap(base, "cache"), "conv=%s", "c1")
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "conv=c1: cache: redis down", err.Error())
}

type closeRecorder struct {
	name  string
	order *[]string
	err   error
}

func (c closeRecorder) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func TestCloseAll_ReverseOrderAndJoin(t *testing.T) {
	var order []string
	errGraph := stderrors.New("pool busy")
	errSink := stderrors.New("disk full")
	err := CloseAll([]io.Closer{
		closeRecorder{name: "sink", order: &order, err: errSink},
		nil,
		closeRecorder{name: "searcher", order: &order},
		closeRecorder{name: "graph", order: &order, err: errGraph},
	})
	require.Error(t, err)
	assert.Equal(t, []string{"graph", "searcher", "sink"}, order)
	assert.ErrorIs(t, err, errGraph)
	assert.ErrorIs(t, err, errSink)

	assert.NoError(t, CloseAll(nil))
}
